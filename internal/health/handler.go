// Package health reports the reachability of the service's backing stores.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/campaign-attribution/internal/ratelimit"
)

const checkTimeout = 2 * time.Second

// Checker defines the interface for checking a dependency.
type Checker interface {
	Ping(ctx context.Context) error
}

// RedisChecker adapts redis.Client to Checker.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// PostgresChecker adapts pgxpool.Pool to Checker.
type PostgresChecker struct {
	pool *pgxpool.Pool
}

// NewPostgresChecker creates a new Postgres health checker.
func NewPostgresChecker(pool *pgxpool.Pool) *PostgresChecker {
	return &PostgresChecker{pool: pool}
}

func (p *PostgresChecker) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Handler handles health check operations.
type Handler struct {
	checkers map[string]Checker
}

// NewHandler creates a health handler over named dependencies. Nil checkers are skipped,
// so a deployment without Postgres simply omits it from the report.
func NewHandler(checkers map[string]Checker) *Handler {
	h := &Handler{checkers: make(map[string]Checker, len(checkers))}

	for name, c := range checkers {
		if c != nil {
			h.checkers[name] = c
		}
	}

	return h
}

// Response is the response for the health check endpoint.
type Response struct {
	Body struct {
		Status       string            `example:"ok"                     json:"status"`
		Dependencies map[string]string `example:"{\"redis\":\"healthy\"}" json:"dependencies"`
	}
}

// Check pings every dependency. Any failure degrades the status but still answers 200.
func (h *Handler) Check(ctx context.Context, _ *struct{}) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	resp := &Response{}
	resp.Body.Status = "ok"
	resp.Body.Dependencies = make(map[string]string, len(h.checkers))

	for name, c := range h.checkers {
		if err := c.Ping(ctx); err != nil {
			resp.Body.Dependencies[name] = "unhealthy"
			resp.Body.Status = "degraded"

			continue
		}

		resp.Body.Dependencies[name] = "healthy"
	}

	return resp, nil
}

// RegisterRoutes registers health check routes.
func RegisterRoutes(api huma.API, h *Handler) {
	huma.Register(api, huma.Operation{
		Method:  http.MethodGet,
		Path:    "/health",
		Summary: "Health check",
		Tags:    []string{"Health"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Disabled: true},
		},
	}, h.Check)
}
