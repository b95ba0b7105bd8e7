package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/campaign-attribution/internal/campaign"
)

// RedisCacheRepository wraps a LinkSource with Redis caching for short link and target reads.
type RedisCacheRepository struct {
	store        LinkSource
	client       *redis.Client
	shortPrefix  string
	targetPrefix string
	ttl          time.Duration
}

// NewRedisCacheRepository creates a new Redis-cached link source decorator.
func NewRedisCacheRepository(store LinkSource, client *redis.Client, ttl time.Duration) *RedisCacheRepository {
	return &RedisCacheRepository{
		store:        store,
		client:       client,
		shortPrefix:  "shortlink:",
		targetPrefix: "target:",
		ttl:          ttl,
	}
}

// GetShortLink retrieves a short link by code, checking cache first.
func (r *RedisCacheRepository) GetShortLink(ctx context.Context, code string) (*campaign.ShortLink, error) {
	if link, err := r.shortLinkFromCache(ctx, code); err == nil {
		return link, nil
	}

	link, err := r.store.GetShortLink(ctx, code)
	if err != nil {
		return nil, err
	}

	r.cache(ctx, r.shortPrefix+link.Code, map[string]any{
		"code":       link.Code,
		"tenant_id":  link.TenantID,
		"target_id":  link.TargetID,
		"link_id":    link.LinkID,
		"expires_at": unixNanos(link.ExpiresAt),
		"created_at": link.CreatedAt.UnixNano(),
	})

	return link, nil
}

// GetTarget retrieves a target by id, checking cache first.
func (r *RedisCacheRepository) GetTarget(ctx context.Context, id string) (*campaign.Target, error) {
	result, err := r.client.HGetAll(ctx, r.targetPrefix+id).Result()
	if err == nil && len(result) > 0 {
		return &campaign.Target{
			ID:       result["id"],
			TenantID: result["tenant_id"],
			Kind:     campaign.TargetKind(result["kind"]),
			Slug:     result["slug"],
		}, nil
	}

	target, err := r.store.GetTarget(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cache(ctx, r.targetPrefix+target.ID, map[string]any{
		"id":        target.ID,
		"tenant_id": target.TenantID,
		"kind":      string(target.Kind),
		"slug":      target.Slug,
	})

	return target, nil
}

// GetLink is not cached; link status and UTM may change after a short link is issued.
func (r *RedisCacheRepository) GetLink(ctx context.Context, tenantID, id string) (*campaign.Link, error) {
	return r.store.GetLink(ctx, tenantID, id)
}

func (r *RedisCacheRepository) shortLinkFromCache(ctx context.Context, code string) (*campaign.ShortLink, error) {
	result, err := r.client.HGetAll(ctx, r.shortPrefix+code).Result()
	if err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return nil, campaign.ErrNotFound
	}

	link := &campaign.ShortLink{
		Code:      result["code"],
		TenantID:  result["tenant_id"],
		TargetID:  result["target_id"],
		LinkID:    result["link_id"],
		CreatedAt: parseNanos(result["created_at"]),
	}

	if expires := parseNanos(result["expires_at"]); !expires.IsZero() {
		link.ExpiresAt = &expires
	}

	return link, nil
}

func (r *RedisCacheRepository) cache(ctx context.Context, key string, fields map[string]any) {
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, fields)

	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}

	_, _ = pipe.Exec(ctx)
}

// Shutdown is a no-op for RedisCacheRepository (client managed externally).
func (r *RedisCacheRepository) Shutdown() error {
	return nil
}

func unixNanos(t *time.Time) int64 {
	if t == nil {
		return 0
	}

	return t.UnixNano()
}

func parseNanos(s string) time.Time {
	nanos, err := strconv.ParseInt(s, 10, 64)
	if err != nil || nanos == 0 {
		return time.Time{}
	}

	return time.Unix(0, nanos).UTC()
}

// Compile-time check.
var _ LinkSource = (*RedisCacheRepository)(nil)
