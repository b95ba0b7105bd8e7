package ratelimit_test

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"mime/multipart"
	"net/url"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/campaign-attribution/internal/ratelimit"
	"github.com/serroba/campaign-attribution/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// opContext is a huma.Context carrying only a method and an operation.
type opContext struct {
	method    string
	operation *huma.Operation
}

func (m *opContext) Operation() *huma.Operation                 { return m.operation }
func (m *opContext) Context() context.Context                   { return context.Background() }
func (m *opContext) TLS() *tls.ConnectionState                  { return nil }
func (m *opContext) Version() huma.ProtoVersion                 { return huma.ProtoVersion{} }
func (m *opContext) Method() string                             { return m.method }
func (m *opContext) Host() string                               { return "" }
func (m *opContext) RemoteAddr() string                         { return "" }
func (m *opContext) URL() url.URL                               { return url.URL{} }
func (m *opContext) Param(_ string) string                      { return "" }
func (m *opContext) Query(_ string) string                      { return "" }
func (m *opContext) Header(_ string) string                     { return "" }
func (m *opContext) EachHeader(_ func(string, string))          {}
func (m *opContext) BodyReader() io.Reader                      { return nil }
func (m *opContext) GetMultipartForm() (*multipart.Form, error) { return nil, errors.ErrUnsupported }
func (m *opContext) SetReadDeadline(_ time.Time) error          { return nil }
func (m *opContext) SetStatus(_ int)                            {}
func (m *opContext) Status() int                                { return 0 }
func (m *opContext) AppendHeader(_, _ string)                   {}
func (m *opContext) SetHeader(_, _ string)                      {}
func (m *opContext) BodyWriter() io.Writer                      { return io.Discard }

func withConfig(cfg ratelimit.EndpointConfig) *huma.Operation {
	return &huma.Operation{Metadata: map[string]any{ratelimit.MetadataKey: cfg}}
}

func TestOperationScopeResolver(t *testing.T) {
	t.Parallel()

	read := []ratelimit.Scope{ratelimit.ScopeGlobal, ratelimit.ScopeRead}
	write := []ratelimit.Scope{ratelimit.ScopeGlobal, ratelimit.ScopeWrite}
	public := []ratelimit.Scope{ratelimit.ScopeGlobal, ratelimit.ScopePublic}

	tests := []struct {
		name      string
		method    string
		operation *huma.Operation
		want      []ratelimit.Scope
	}{
		{name: "GET without operation is read", method: "GET", want: read},
		{name: "HEAD is read", method: "HEAD", operation: &huma.Operation{}, want: read},
		{name: "POST is write", method: "POST", operation: &huma.Operation{}, want: write},
		{name: "DELETE is write", method: "DELETE", want: write},
		{
			name:      "unrelated metadata is ignored",
			method:    "GET",
			operation: &huma.Operation{Metadata: map[string]any{"auth": "tenant"}},
			want:      read,
		},
		{
			name:      "metadata scope wins over method",
			method:    "GET",
			operation: withConfig(ratelimit.EndpointConfig{Scope: ratelimit.ScopePublic}),
			want:      public,
		},
		{
			name:      "custom limits without scope keep method scope",
			method:    "POST",
			operation: withConfig(ratelimit.EndpointConfig{Limits: []ratelimit.LimitConfig{{Window: time.Minute, Max: 1}}}),
			want:      write,
		},
	}

	resolver := ratelimit.NewOperationScopeResolver()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := resolver.Resolve(&opContext{method: tt.method, operation: tt.operation})

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEndpointConfig(t *testing.T) {
	t.Parallel()

	assert.Nil(t, ratelimit.GetEndpointConfig(&opContext{}))
	assert.Nil(t, ratelimit.GetEndpointConfig(&opContext{operation: &huma.Operation{}}))

	cfg := ratelimit.GetEndpointConfig(&opContext{operation: withConfig(ratelimit.EndpointConfig{Disabled: true})})
	require.NotNil(t, cfg)
	assert.True(t, cfg.Disabled)
}

func TestPolicyLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("counts each scope independently", func(t *testing.T) {
		policy := ratelimit.NewPolicyBuilder().
			AddLimit(ratelimit.ScopeGlobal, 10, time.Minute).
			AddLimit(ratelimit.ScopeWrite, 2, time.Minute).
			Build()
		limiter := ratelimit.NewPolicyLimiter(store.NewRateLimitMemoryStore(), policy)
		scopes := []ratelimit.Scope{ratelimit.ScopeGlobal, ratelimit.ScopeWrite}

		for range 2 {
			allowed, exceeded, err := limiter.Allow(ctx, "tenant:a", scopes)
			require.NoError(t, err)
			assert.True(t, allowed)
			assert.Nil(t, exceeded)
		}

		allowed, exceeded, err := limiter.Allow(ctx, "tenant:a", scopes)

		require.NoError(t, err)
		assert.False(t, allowed)
		require.NotNil(t, exceeded)
		assert.Equal(t, ratelimit.ScopeWrite, exceeded.Scope)
		assert.Equal(t, int64(3), exceeded.Count)

		allowed, _, err = limiter.Allow(ctx, "tenant:b", scopes)
		require.NoError(t, err)
		assert.True(t, allowed, "other clients keep their own budget")
	})

	t.Run("scopes without limits always pass", func(t *testing.T) {
		limiter := ratelimit.NewPolicyLimiter(store.NewRateLimitMemoryStore(), ratelimit.NewPolicyBuilder().Build())

		allowed, _, err := limiter.Allow(ctx, "ip", []ratelimit.Scope{ratelimit.ScopePublic})

		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("default policy limits public traffic", func(t *testing.T) {
		policy := ratelimit.DefaultPolicy()

		assert.NotEmpty(t, policy.Limits[ratelimit.ScopePublic])
		assert.Len(t, policy.Limits[ratelimit.ScopeWrite], 2)
	})
}
