//go:build integration

package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

func TestRedisCacheRepositoryIntegration(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: getRedisAddr(),
	})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	mem := store.NewMemoryStore()
	mem.PutTarget(campaign.Target{ID: "cache-t1", TenantID: "a", Kind: campaign.TargetEntity, Slug: "launch"})

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	require.NoError(t, mem.InsertShortLink(ctx, &campaign.ShortLink{
		Code: "cachecode1", TenantID: "a", TargetID: "cache-t1", ExpiresAt: &expires, CreatedAt: time.Now(),
	}))

	cached := store.NewRedisCacheRepository(mem, client, time.Minute)

	defer client.Del(ctx, "shortlink:cachecode1", "target:cache-t1")

	t.Run("populates and serves from cache", func(t *testing.T) {
		first, err := cached.GetShortLink(ctx, "cachecode1")
		require.NoError(t, err)

		fields, err := client.HGetAll(ctx, "shortlink:cachecode1").Result()
		require.NoError(t, err)
		assert.Equal(t, "cache-t1", fields["target_id"])

		second, err := cached.GetShortLink(ctx, "cachecode1")
		require.NoError(t, err)
		assert.Equal(t, first.TargetID, second.TargetID)
		require.NotNil(t, second.ExpiresAt)
		assert.True(t, expires.Equal(*second.ExpiresAt))
	})

	t.Run("caches targets", func(t *testing.T) {
		target, err := cached.GetTarget(ctx, "cache-t1")
		require.NoError(t, err)
		assert.Equal(t, "launch", target.Slug)

		ttl, err := client.TTL(ctx, "target:cache-t1").Result()
		require.NoError(t, err)
		assert.Positive(t, ttl)
	})

	t.Run("passes not found through", func(t *testing.T) {
		_, err := cached.GetShortLink(ctx, "nope")
		assert.ErrorIs(t, err, campaign.ErrNotFound)
	})
}
