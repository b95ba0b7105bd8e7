package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/campaign-attribution/internal/auth"
	"github.com/serroba/campaign-attribution/internal/handlers"
	"github.com/serroba/campaign-attribution/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const jwtSecret = "jwt-secret"

type echoOutput struct {
	Body struct {
		TenantID  string `json:"tenant_id"`
		ClientIP  string `json:"client_ip"`
		UserAgent string `json:"user_agent"`
		Referrer  string `json:"referrer"`
	}
}

func echo(ctx context.Context, _ *struct{}) (*echoOutput, error) {
	out := &echoOutput{}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		out.Body.TenantID = p.TenantID
	}

	meta := handlers.RequestMetaFromContext(ctx)
	out.Body.ClientIP = meta.ClientIP
	out.Body.UserAgent = meta.UserAgent
	out.Body.Referrer = meta.Referrer

	return out, nil
}

func newAuthRouter(t *testing.T, schedulerSecret string) http.Handler {
	t.Helper()

	router, api := newTestAPI()
	api.UseMiddleware(
		middleware.Metrics(api),
		middleware.RequestMeta(api),
		middleware.Authenticate(api, auth.NewTokenVerifier(jwtSecret), schedulerSecret, zap.NewNop()),
	)

	huma.Register(api, huma.Operation{
		Method: http.MethodGet, Path: "/tenant",
		Metadata: map[string]any{auth.MetadataKey: auth.LevelTenant},
	}, echo)
	huma.Register(api, huma.Operation{
		Method: http.MethodGet, Path: "/internal",
		Metadata: map[string]any{auth.MetadataKey: auth.LevelScheduler},
	}, echo)
	huma.Register(api, huma.Operation{Method: http.MethodGet, Path: "/public"}, echo)

	return router
}

func get(t *testing.T, h http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	return w
}

func TestAuthenticate(t *testing.T) {
	token, err := auth.IssueToken(jwtSecret, "tenant-a", "user-1", time.Hour)
	require.NoError(t, err)

	t.Run("tenant endpoint receives the principal", func(t *testing.T) {
		w := get(t, newAuthRouter(t, ""), "/tenant", map[string]string{"Authorization": "Bearer " + token})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"tenant_id":"tenant-a"`)
	})

	t.Run("tenant endpoint rejects missing token", func(t *testing.T) {
		w := get(t, newAuthRouter(t, ""), "/tenant", nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("tenant endpoint rejects forged token", func(t *testing.T) {
		forged, err := auth.IssueToken("wrong", "tenant-a", "user-1", time.Hour)
		require.NoError(t, err)

		w := get(t, newAuthRouter(t, ""), "/tenant", map[string]string{"Authorization": "Bearer " + forged})

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("scheduler endpoint requires the secret when set", func(t *testing.T) {
		router := newAuthRouter(t, "cron-secret")

		assert.Equal(t, http.StatusUnauthorized, get(t, router, "/internal", nil).Code)
		assert.Equal(t, http.StatusUnauthorized,
			get(t, router, "/internal", map[string]string{"Authorization": "Bearer " + token}).Code)
		assert.Equal(t, http.StatusOK,
			get(t, router, "/internal", map[string]string{"Authorization": "Bearer cron-secret"}).Code)
	})

	t.Run("scheduler endpoint is open without a secret", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get(t, newAuthRouter(t, ""), "/internal", nil).Code)
	})

	t.Run("public endpoint needs nothing", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get(t, newAuthRouter(t, "cron-secret"), "/public", nil).Code)
	})
}

func TestRequestMeta(t *testing.T) {
	router := newAuthRouter(t, "")

	tests := []struct {
		name    string
		headers map[string]string
		want    []string
	}{
		{
			name:    "user agent and referrer",
			headers: map[string]string{"User-Agent": "TestAgent/1.0", "Referer": "https://mail.google.com/"},
			want:    []string{`"user_agent":"TestAgent/1.0"`, `"referrer":"https://mail.google.com/"`},
		},
		{
			name:    "first forwarded address",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"},
			want:    []string{`"client_ip":"203.0.113.7"`},
		},
		{
			name:    "real ip header",
			headers: map[string]string{"X-Real-IP": "198.51.100.2"},
			want:    []string{`"client_ip":"198.51.100.2"`},
		},
		{
			name: "connection address without port",
			want: []string{`"client_ip":"192.0.2.1"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, router, "/public", tt.headers)

			require.Equal(t, http.StatusOK, w.Code)

			for _, want := range tt.want {
				assert.Contains(t, w.Body.String(), want)
			}
		})
	}
}
