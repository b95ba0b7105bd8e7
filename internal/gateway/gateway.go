// Package gateway resolves short codes into landing page redirects and logs the click
// without making the visitor wait for it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/campaign-attribution/internal/analytics"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/messaging"
	"github.com/serroba/campaign-attribution/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// SessionParam is the query parameter carrying the visitor session id.
const SessionParam = "session_id"

// Store is the read path used to resolve codes.
type Store interface {
	GetShortLink(ctx context.Context, code string) (*campaign.ShortLink, error)
	GetTarget(ctx context.Context, id string) (*campaign.Target, error)
	GetLink(ctx context.Context, tenantID, id string) (*campaign.Link, error)
}

// Config tunes access logging.
type Config struct {
	LogTimeout       time.Duration
	FailureThreshold uint32
	BreakerCooldown  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LogTimeout:       2 * time.Second,
		FailureThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Resolution is a short code resolved to its target and optional campaign link.
type Resolution struct {
	ShortLink campaign.ShortLink
	Target    campaign.Target
	Link      *campaign.Link
}

// RedirectRequest carries what the gateway knows about the visitor.
type RedirectRequest struct {
	Query     url.Values
	SessionID string // from the session cookie
	ClientIP  string
	UserAgent string
	Referrer  string
}

// Redirect is the landing location and the session id it carries.
type Redirect struct {
	Location  string
	SessionID string
}

// Gateway implements short code redirects.
type Gateway struct {
	store      Store
	publish    messaging.Publish[analytics.AccessLoggedEvent]
	breaker    *gobreaker.CircuitBreaker[struct{}]
	logTimeout time.Duration
	now        func() time.Time
	newSession func() string
	logger     *zap.Logger
	pending    sync.WaitGroup
}

// New creates a gateway publishing access events through publish.
func New(
	store Store,
	publish messaging.Publish[analytics.AccessLoggedEvent],
	cfg Config,
	logger *zap.Logger,
) *Gateway {
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "access-log",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Gateway{
		store:      store,
		publish:    publish,
		breaker:    breaker,
		logTimeout: cfg.LogTimeout,
		now:        time.Now,
		newSession: uuid.NewString,
		logger:     logger,
	}
}

// Resolve looks up a short code. Unknown codes return ErrNotFound and lapsed ones ErrExpired.
// A short link whose campaign link has since disappeared still resolves to its target.
func (g *Gateway) Resolve(ctx context.Context, code string) (*Resolution, error) {
	short, err := g.store.GetShortLink(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("short link %q: %w", code, err)
	}

	if short.Expired(g.now()) {
		return nil, fmt.Errorf("short link %q: %w", code, campaign.ErrExpired)
	}

	target, err := g.store.GetTarget(ctx, short.TargetID)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", short.TargetID, err)
	}

	if target.TenantID != short.TenantID {
		return nil, fmt.Errorf("target %s: %w", short.TargetID, campaign.ErrNotFound)
	}

	res := &Resolution{ShortLink: *short, Target: *target}

	if short.LinkID != "" {
		link, err := g.store.GetLink(ctx, short.TenantID, short.LinkID)

		switch {
		case err == nil:
			res.Link = link
		case errors.Is(err, campaign.ErrNotFound):
			g.logger.Warn("short link points at missing campaign link",
				zap.String("code", code), zap.String("link_id", short.LinkID))
		default:
			return nil, fmt.Errorf("link %s: %w", short.LinkID, err)
		}
	}

	return res, nil
}

// Redirect resolves code and builds the landing location. Incoming query parameters are
// forwarded, the link's cid and UTM fill in whatever is missing and session_id is always set.
// The click is logged in the background.
func (g *Gateway) Redirect(ctx context.Context, code string, req RedirectRequest) (*Redirect, error) {
	res, err := g.Resolve(ctx, code)
	if err != nil {
		metrics.Redirects.WithLabelValues(outcome(err)).Inc()

		return nil, err
	}

	query := url.Values{}
	for key, values := range req.Query {
		query[key] = append([]string(nil), values...)
	}

	sessionID := query.Get(SessionParam)
	if sessionID == "" {
		sessionID = req.SessionID
	}

	if sessionID == "" {
		sessionID = g.newSession()
	}

	query.Set(SessionParam, sessionID)

	variant := campaign.VariantWelcome

	if res.Link != nil {
		variant = res.Link.Variant

		setIfAbsent(query, "cid", res.Link.CID)

		for i, value := range res.Link.UTM.Values() {
			setIfAbsent(query, campaign.UTMKeys[i], value)
		}
	}

	location := campaign.LandingPath(res.Target, variant) + "?" + query.Encode()

	event := &analytics.AccessLoggedEvent{
		ID:         uuid.NewString(),
		TenantID:   res.Target.TenantID,
		TargetID:   res.Target.ID,
		SessionID:  sessionID,
		CID:        query.Get("cid"),
		Referrer:   req.Referrer,
		UserAgent:  req.UserAgent,
		ClientIP:   req.ClientIP,
		ShortCode:  res.ShortLink.Code,
		AccessedAt: g.now().UTC(),
	}
	event.SetUTM(campaign.UTMFromLookup(query.Get))

	if res.Link != nil {
		event.LinkID = res.Link.ID
	}

	g.logAccess(ctx, event)

	metrics.Redirects.WithLabelValues("ok").Inc()

	return &Redirect{Location: location, SessionID: sessionID}, nil
}

// logAccess publishes the event on a detached goroutine bounded by the log timeout.
func (g *Gateway) logAccess(ctx context.Context, event *analytics.AccessLoggedEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.logTimeout)

	g.pending.Add(1)

	go func() {
		defer g.pending.Done()
		defer cancel()

		done := make(chan error, 1)

		go func() {
			_, err := g.breaker.Execute(func() (struct{}, error) {
				return struct{}{}, g.publish(ctx, event)
			})
			done <- err
		}()

		var err error

		select {
		case err = <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}

		if err != nil {
			metrics.AccessLogFailures.Inc()
			g.logger.Warn("access log not recorded",
				zap.String("code", event.ShortCode),
				zap.String("target_id", event.TargetID),
				zap.Error(fmt.Errorf("%w: %w", campaign.ErrLoggingFailure, err)),
			)
		}
	}()
}

// Wait blocks until every in-flight access log attempt has finished or timed out.
func (g *Gateway) Wait() {
	g.pending.Wait()
}

// Shutdown waits for pending access logs.
func (g *Gateway) Shutdown() error {
	g.Wait()

	return nil
}

func setIfAbsent(query url.Values, key, value string) {
	if value == "" || query.Get(key) != "" {
		return
	}

	query.Set(key, value)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		return "not_found"
	case errors.Is(err, campaign.ErrExpired):
		return "expired"
	default:
		return "error"
	}
}
