package aggregator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/serroba/campaign-attribution/internal/aggregator"
	"github.com/serroba/campaign-attribution/internal/attribution"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/registry"
	"github.com/serroba/campaign-attribution/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var day = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *store.MemoryStore {
	t.Helper()

	ctx := context.Background()
	s := store.NewMemoryStore()
	s.PutTarget(campaign.Target{ID: "t1", TenantID: "a", Kind: campaign.TargetEntity, Slug: "summit"})
	s.PutTarget(campaign.Target{ID: "t2", TenantID: "b", Kind: campaign.TargetWebinar})

	require.NoError(t, s.InsertLink(ctx, &campaign.Link{ID: "l1", TenantID: "a", TargetID: "t1", Name: "news", CID: "news0001"}))

	visits := []campaign.AccessLogEntry{
		{ID: "v1", SessionID: "s1", CID: "news0001", Source: campaign.SourceRedirect},
		{ID: "v2", SessionID: "s1", CID: "news0001", Source: campaign.SourceRedirect},
		{ID: "v3", SessionID: "s1", CID: "news0001", Source: campaign.SourceLanding},
		{ID: "v4", SessionID: "s2", CID: "news0001", Source: campaign.SourceRedirect},
		{ID: "v5", SessionID: "s3", Source: campaign.SourceLanding},
	}

	for i, v := range visits {
		v.TenantID, v.TargetID, v.AccessedAt = "a", "t1", day.Add(9*time.Hour+time.Duration(i)*time.Minute)
		require.NoError(t, s.AppendAccess(ctx, &v))
	}

	payload, err := campaign.EncodeAttribution(nil, campaign.Attribution{CID: "news0001"})
	require.NoError(t, err)

	require.NoError(t, s.AppendConversion(ctx, &campaign.Conversion{
		ID: "c1", TenantID: "a", TargetID: "t1", Contact: campaign.Contact{Email: "Jane@example.com"},
		Payload: payload, CreatedAt: day.Add(10 * time.Hour),
	}))
	require.NoError(t, s.AppendConversion(ctx, &campaign.Conversion{
		ID: "c2", TenantID: "a", TargetID: "t1", Contact: campaign.Contact{Email: " jane@example.com"},
		CreatedAt: day.Add(11 * time.Hour),
	}))

	s.RecordFormResponse("t1", day.Add(12*time.Hour))
	s.RecordParticipation("t1", day.Add(13*time.Hour))
	s.RecordParticipation("t1", day.Add(14*time.Hour))

	return s
}

func newAggregator(s aggregator.Store, repo *store.MemoryStore, cfg aggregator.Config) *aggregator.Aggregator {
	svc := registry.NewService(repo, func() string { return "x" }, func() string { return "x" }, "", zap.NewNop())
	resolver := attribution.NewResolver(repo, svc, zap.NewNop())

	return aggregator.New(s, resolver, cfg, zap.NewNop())
}

func backfill(from, to time.Time) aggregator.Request {
	return aggregator.Request{From: &from, To: &to}
}

func TestAggregator_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("writes entity and link rows", func(t *testing.T) {
		s := seeded(t)
		agg := newAggregator(s, s, aggregator.DefaultConfig())

		summary, err := agg.Run(ctx, backfill(day.Add(8*time.Hour), day.Add(20*time.Hour)))
		require.NoError(t, err)

		assert.Equal(t, aggregator.ModeBackfill, summary.Mode)
		assert.Equal(t, 2, summary.EntitiesProcessed)
		assert.Equal(t, 2, summary.StatsUpserted)
		assert.Equal(t, 1, summary.LinkStatsUpserted)
		assert.False(t, summary.Partial)

		rows, err := s.ListDailyStats(ctx, campaign.StatFilter{EntityID: "t1"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, day, rows[0].BucketDate)
		assert.Equal(t, int64(3), rows[0].Visits)
		assert.Equal(t, int64(1), rows[0].Conversions)
		assert.Equal(t, int64(1), rows[0].FormResponses)
		assert.Equal(t, int64(2), rows[0].Participations)
		assert.Equal(t, int64(3), rows[0].Clicks)

		linkRows, err := s.ListDailyStats(ctx, campaign.StatFilter{EntityID: "t1", LinkID: "l1"})
		require.NoError(t, err)
		require.Len(t, linkRows, 1)
		assert.Equal(t, int64(2), linkRows[0].Visits)
		assert.Equal(t, int64(1), linkRows[0].Conversions)
	})

	t.Run("rerun over unchanged data is idempotent", func(t *testing.T) {
		s := seeded(t)
		agg := newAggregator(s, s, aggregator.DefaultConfig())
		req := backfill(day, day.Add(23*time.Hour))

		_, err := agg.Run(ctx, req)
		require.NoError(t, err)

		first, err := s.ListDailyStats(ctx, campaign.StatFilter{EntityID: "t1"})
		require.NoError(t, err)

		time.Sleep(2 * time.Millisecond)

		_, err = agg.Run(ctx, req)
		require.NoError(t, err)

		second, err := s.ListDailyStats(ctx, campaign.StatFilter{EntityID: "t1"})
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("backfill normalizes to whole utc days", func(t *testing.T) {
		s := seeded(t)
		agg := newAggregator(s, s, aggregator.DefaultConfig())

		summary, err := agg.Run(ctx, aggregator.Request{
			From:     ptr(time.Date(2025, 5, 1, 23, 30, 0, 0, time.FixedZone("KST", 9*3600))),
			To:       ptr(time.Date(2025, 5, 3, 2, 0, 0, 0, time.UTC)),
			EntityID: "t1",
		})
		require.NoError(t, err)

		assert.Equal(t, 1, summary.EntitiesProcessed)
		assert.Equal(t, 3, summary.StatsUpserted)

		rows, err := s.ListDailyStats(ctx, campaign.StatFilter{EntityID: "t1"})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, day, rows[0].BucketDate)
		assert.Equal(t, int64(3), rows[0].Visits)
		assert.Equal(t, int64(0), rows[1].Visits)
	})

	t.Run("rejects inverted window", func(t *testing.T) {
		s := seeded(t)
		agg := newAggregator(s, s, aggregator.DefaultConfig())

		_, err := agg.Run(ctx, backfill(day.Add(time.Hour), day))

		assert.ErrorIs(t, err, campaign.ErrValidation)
		assert.Equal(t, aggregator.StateIdle, agg.Status().State)
	})

	t.Run("unknown entity", func(t *testing.T) {
		s := seeded(t)
		agg := newAggregator(s, s, aggregator.DefaultConfig())

		_, err := agg.Run(ctx, aggregator.Request{EntityID: "nope"})

		assert.ErrorIs(t, err, campaign.ErrNotFound)
		assert.Equal(t, aggregator.StateFailed, agg.Status().State)
	})

	t.Run("incremental run covers the last day", func(t *testing.T) {
		s := seeded(t)
		agg := newAggregator(s, s, aggregator.DefaultConfig())

		summary, err := agg.Run(ctx, aggregator.Request{})
		require.NoError(t, err)

		assert.Equal(t, aggregator.ModeIncremental, summary.Mode)
		assert.Equal(t, 24*time.Hour, summary.To.Sub(summary.From))
		assert.Equal(t, aggregator.StateCompleted, agg.Status().State)
	})
}

type flakyStore struct {
	*store.MemoryStore
}

func (f flakyStore) CountFormResponses(context.Context, string, campaign.Window) (int64, error) {
	return 0, errors.New("form service unavailable")
}

func (f flakyStore) CountParticipations(ctx context.Context, _ string, _ campaign.Window) (int64, error) {
	<-ctx.Done()

	return 0, ctx.Err()
}

func TestAggregator_DegradedMetrics(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	cfg := aggregator.DefaultConfig()
	cfg.MetricTimeout = 20 * time.Millisecond
	agg := newAggregator(flakyStore{s}, s, cfg)

	start := time.Now()
	summary, err := agg.Run(ctx, aggregator.Request{From: ptr(day), To: ptr(day.Add(time.Hour)), EntityID: "t1"})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, summary.Partial)
	assert.Equal(t, 2, summary.DegradedMetrics)
	assert.Equal(t, 1, summary.StatsUpserted)

	rows, err := s.ListDailyStats(ctx, campaign.StatFilter{EntityID: "t1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].Visits)
	assert.Equal(t, int64(1), rows[0].Conversions)
	assert.Equal(t, int64(0), rows[0].FormResponses)
	assert.Equal(t, int64(0), rows[0].Participations)
	assert.Equal(t, int64(3), rows[0].Clicks)

	status := agg.Status()
	assert.Equal(t, aggregator.StateFailed, status.State)
	require.NotNil(t, status.Last)
	assert.True(t, status.Last.Partial)
}

func ptr(t time.Time) *time.Time {
	return &t
}
