package gateway_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/serroba/campaign-attribution/internal/analytics"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/gateway"
	"github.com/serroba/campaign-attribution/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []analytics.AccessLoggedEvent
	err    error
}

func (p *recordingPublisher) publish(_ context.Context, event *analytics.AccessLoggedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, *event)

	return p.err
}

func (p *recordingPublisher) recorded() []analytics.AccessLoggedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]analytics.AccessLoggedEvent(nil), p.events...)
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()

	ctx := context.Background()
	s := store.NewMemoryStore()
	s.PutTarget(campaign.Target{ID: "t1", TenantID: "a", Kind: campaign.TargetEntity, Slug: "summit"})
	s.PutTarget(campaign.Target{ID: "w1", TenantID: "a", Kind: campaign.TargetWebinar})

	require.NoError(t, s.InsertLink(ctx, &campaign.Link{
		ID: "l1", TenantID: "a", TargetID: "t1", Name: "newsletter", CID: "abcd1234",
		Variant: campaign.VariantRegister, UTM: campaign.UTM{Source: "newsletter", Medium: "email"},
	}))

	past := time.Now().Add(-time.Hour)

	for _, short := range []campaign.ShortLink{
		{Code: "news", TenantID: "a", TargetID: "t1", LinkID: "l1"},
		{Code: "plain", TenantID: "a", TargetID: "t1"},
		{Code: "live", TenantID: "a", TargetID: "w1"},
		{Code: "old", TenantID: "a", TargetID: "t1", ExpiresAt: &past},
		{Code: "orphan", TenantID: "a", TargetID: "t1", LinkID: "deleted"},
	} {
		require.NoError(t, s.InsertShortLink(ctx, &short))
	}

	return s
}

func newGateway(t *testing.T, pub *recordingPublisher) *gateway.Gateway {
	t.Helper()

	return gateway.New(seededStore(t), pub.publish, gateway.DefaultConfig(), zap.NewNop())
}

func parseLocation(t *testing.T, location string) *url.URL {
	t.Helper()

	u, err := url.Parse(location)
	require.NoError(t, err)

	return u
}

func TestGateway_Redirect(t *testing.T) {
	ctx := context.Background()

	t.Run("adds link cid and utm and issues a session", func(t *testing.T) {
		pub := &recordingPublisher{}
		gw := newGateway(t, pub)

		got, err := gw.Redirect(ctx, "news", gateway.RedirectRequest{Referrer: "https://mail.google.com/"})
		require.NoError(t, err)
		gw.Wait()

		u := parseLocation(t, got.Location)
		assert.Equal(t, "/event/summit/register", u.Path)
		assert.Equal(t, "abcd1234", u.Query().Get("cid"))
		assert.Equal(t, "newsletter", u.Query().Get("utm_source"))
		assert.Equal(t, "email", u.Query().Get("utm_medium"))
		assert.NotEmpty(t, got.SessionID)
		assert.Equal(t, got.SessionID, u.Query().Get(gateway.SessionParam))

		events := pub.recorded()
		require.Len(t, events, 1)
		assert.Equal(t, "l1", events[0].LinkID)
		assert.Equal(t, "t1", events[0].TargetID)
		assert.Equal(t, "a", events[0].TenantID)
		assert.Equal(t, got.SessionID, events[0].SessionID)
		assert.Equal(t, "newsletter", events[0].UTMSource)
		assert.Equal(t, "https://mail.google.com/", events[0].Referrer)
		assert.Equal(t, "news", events[0].ShortCode)
	})

	t.Run("incoming parameters win over link defaults", func(t *testing.T) {
		gw := newGateway(t, &recordingPublisher{})

		got, err := gw.Redirect(ctx, "news", gateway.RedirectRequest{
			Query: url.Values{"utm_source": {"twitter"}, "ref": {"abc"}},
		})
		require.NoError(t, err)
		gw.Wait()

		q := parseLocation(t, got.Location).Query()
		assert.Equal(t, "twitter", q.Get("utm_source"))
		assert.Equal(t, "email", q.Get("utm_medium"))
		assert.Equal(t, "abc", q.Get("ref"))
	})

	t.Run("session id precedence", func(t *testing.T) {
		gw := newGateway(t, &recordingPublisher{})

		fromQuery, err := gw.Redirect(ctx, "plain", gateway.RedirectRequest{
			Query:     url.Values{gateway.SessionParam: {"from-query"}},
			SessionID: "from-cookie",
		})
		require.NoError(t, err)
		assert.Equal(t, "from-query", fromQuery.SessionID)

		fromCookie, err := gw.Redirect(ctx, "plain", gateway.RedirectRequest{SessionID: "from-cookie"})
		require.NoError(t, err)
		assert.Equal(t, "from-cookie", fromCookie.SessionID)

		gw.Wait()
	})

	t.Run("webinar target lands on live page", func(t *testing.T) {
		gw := newGateway(t, &recordingPublisher{})

		got, err := gw.Redirect(ctx, "live", gateway.RedirectRequest{})
		require.NoError(t, err)
		gw.Wait()

		assert.Equal(t, "/webinar/w1/live", parseLocation(t, got.Location).Path)
	})

	t.Run("missing campaign link still redirects to target", func(t *testing.T) {
		gw := newGateway(t, &recordingPublisher{})

		got, err := gw.Redirect(ctx, "orphan", gateway.RedirectRequest{})
		require.NoError(t, err)
		gw.Wait()

		u := parseLocation(t, got.Location)
		assert.Equal(t, "/event/summit", u.Path)
		assert.Empty(t, u.Query().Get("cid"))
	})

	t.Run("unknown code", func(t *testing.T) {
		gw := newGateway(t, &recordingPublisher{})

		_, err := gw.Redirect(ctx, "nope", gateway.RedirectRequest{})

		assert.ErrorIs(t, err, campaign.ErrNotFound)
	})

	t.Run("expired code", func(t *testing.T) {
		gw := newGateway(t, &recordingPublisher{})

		_, err := gw.Redirect(ctx, "old", gateway.RedirectRequest{})

		assert.ErrorIs(t, err, campaign.ErrExpired)
	})
}

func TestGateway_AccessLogFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("publish error does not affect the redirect", func(t *testing.T) {
		pub := &recordingPublisher{err: errors.New("stream unavailable")}
		gw := newGateway(t, pub)

		got, err := gw.Redirect(ctx, "news", gateway.RedirectRequest{})
		gw.Wait()

		require.NoError(t, err)
		assert.Equal(t, "/event/summit/register", parseLocation(t, got.Location).Path)
		assert.Len(t, pub.recorded(), 1)
	})

	t.Run("slow publish does not block the redirect", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		slow := func(ctx context.Context, _ *analytics.AccessLoggedEvent) error {
			select {
			case <-release:
			case <-ctx.Done():
			}

			return ctx.Err()
		}

		cfg := gateway.DefaultConfig()
		cfg.LogTimeout = 50 * time.Millisecond
		gw := gateway.New(seededStore(t), slow, cfg, zap.NewNop())

		start := time.Now()
		got, err := gw.Redirect(ctx, "news", gateway.RedirectRequest{})
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.NotEmpty(t, got.Location)
		assert.Less(t, elapsed, 40*time.Millisecond)

		gw.Wait()
	})

	t.Run("request cancellation does not cancel logging", func(t *testing.T) {
		pub := &recordingPublisher{}
		gw := newGateway(t, pub)

		reqCtx, cancel := context.WithCancel(ctx)
		_, err := gw.Redirect(reqCtx, "news", gateway.RedirectRequest{})
		cancel()
		gw.Wait()

		require.NoError(t, err)
		assert.Len(t, pub.recorded(), 1)
	})

	t.Run("open breaker stops publishing", func(t *testing.T) {
		pub := &recordingPublisher{err: errors.New("stream unavailable")}
		cfg := gateway.DefaultConfig()
		cfg.FailureThreshold = 2
		gw := gateway.New(seededStore(t), pub.publish, cfg, zap.NewNop())

		for range 5 {
			_, err := gw.Redirect(ctx, "news", gateway.RedirectRequest{})
			require.NoError(t, err)
			gw.Wait()
		}

		assert.Len(t, pub.recorded(), 2)
	})
}
