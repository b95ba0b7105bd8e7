package recorder_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/recorder"
	"github.com/serroba/campaign-attribution/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seeded(t *testing.T) *store.MemoryStore {
	t.Helper()

	s := store.NewMemoryStore()
	s.PutTarget(campaign.Target{ID: "t1", TenantID: "a", Kind: campaign.TargetEntity, Slug: "summit"})
	s.PutTarget(campaign.Target{ID: "t2", TenantID: "a", Kind: campaign.TargetEntity, Slug: "expo"})
	s.PutTarget(campaign.Target{ID: "tb", TenantID: "b", Kind: campaign.TargetEntity, Slug: "theirs"})
	require.NoError(t, s.InsertLink(context.Background(), &campaign.Link{ID: "l1", TenantID: "a", TargetID: "t1", Name: "n", CID: "abcd1234"}))

	return s
}

func TestRecorder_RecordVisit(t *testing.T) {
	ctx := context.Background()

	t.Run("appends without deduplication", func(t *testing.T) {
		s := seeded(t)
		rec := recorder.New(s, zap.NewNop())

		for range 3 {
			_, err := rec.RecordVisit(ctx, recorder.VisitInput{TargetID: "t1", SessionID: "s1", LinkID: "l1"})
			require.NoError(t, err)
		}

		rows, err := s.ListAccess(ctx, campaign.AccessFilter{TargetID: "t1"})
		require.NoError(t, err)
		assert.Len(t, rows, 3)
		assert.Equal(t, "a", rows[0].TenantID)
		assert.Equal(t, campaign.SourceLanding, rows[0].Source)
		assert.False(t, rows[0].AccessedAt.IsZero())
	})

	t.Run("requires a session id", func(t *testing.T) {
		rec := recorder.New(seeded(t), zap.NewNop())

		_, err := rec.RecordVisit(ctx, recorder.VisitInput{TargetID: "t1"})

		assert.ErrorIs(t, err, campaign.ErrValidation)
	})

	t.Run("rejects tenant mismatch", func(t *testing.T) {
		rec := recorder.New(seeded(t), zap.NewNop())

		_, err := rec.RecordVisit(ctx, recorder.VisitInput{TenantID: "a", TargetID: "tb", SessionID: "s1"})

		assert.ErrorIs(t, err, campaign.ErrPermission)
	})

	t.Run("landing visit with foreign link is rejected", func(t *testing.T) {
		rec := recorder.New(seeded(t), zap.NewNop())

		_, err := rec.RecordVisit(ctx, recorder.VisitInput{TargetID: "t2", SessionID: "s1", LinkID: "l1", Source: campaign.SourceLanding})

		assert.ErrorIs(t, err, campaign.ErrPermission)
	})

	t.Run("redirect visit with unknown link keeps the row", func(t *testing.T) {
		s := seeded(t)
		rec := recorder.New(s, zap.NewNop())

		entry, err := rec.RecordVisit(ctx, recorder.VisitInput{
			TargetID: "t1", SessionID: "s1", LinkID: "gone", Source: campaign.SourceRedirect,
			At: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		})

		require.NoError(t, err)
		assert.Empty(t, entry.LinkID)
		assert.Equal(t, campaign.SourceRedirect, entry.Source)
	})
}

func TestRecorder_RecordConversion(t *testing.T) {
	ctx := context.Background()
	contact := campaign.Contact{Email: "jane@example.com", Name: "Jane"}

	t.Run("stores conversion with direct link", func(t *testing.T) {
		s := seeded(t)
		rec := recorder.New(s, zap.NewNop())

		conv, err := rec.RecordConversion(ctx, recorder.ConversionInput{
			TenantID: "a", TargetID: "t1", LinkID: "l1", SessionID: "s1", Contact: contact,
		})

		require.NoError(t, err)
		assert.Equal(t, "l1", conv.LinkID)

		rows, err := s.ListConversions(ctx, campaign.ConversionFilter{TenantID: "a"})
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("embeds attribution in payload", func(t *testing.T) {
		rec := recorder.New(seeded(t), zap.NewNop())

		conv, err := rec.RecordConversion(ctx, recorder.ConversionInput{
			TenantID: "a", TargetID: "t1", Contact: contact,
			Payload:     json.RawMessage(`{"answers":{"q1":"a"}}`),
			Attribution: &campaign.Attribution{CID: "abcd1234", UTM: campaign.UTM{Source: "newsletter"}},
		})

		require.NoError(t, err)
		assert.Empty(t, conv.LinkID)
		assert.Equal(t, "abcd1234", conv.Attribution().CID)
		assert.Contains(t, string(conv.Payload), `"answers"`)
	})

	t.Run("target of another tenant is forbidden", func(t *testing.T) {
		rec := recorder.New(seeded(t), zap.NewNop())

		_, err := rec.RecordConversion(ctx, recorder.ConversionInput{TenantID: "a", TargetID: "tb", Contact: contact})

		assert.ErrorIs(t, err, campaign.ErrPermission)
	})

	t.Run("unknown target is not found", func(t *testing.T) {
		rec := recorder.New(seeded(t), zap.NewNop())

		_, err := rec.RecordConversion(ctx, recorder.ConversionInput{TenantID: "a", TargetID: "zz", Contact: contact})

		assert.ErrorIs(t, err, campaign.ErrNotFound)
	})

	t.Run("link must point at the same target", func(t *testing.T) {
		rec := recorder.New(seeded(t), zap.NewNop())

		_, err := rec.RecordConversion(ctx, recorder.ConversionInput{TenantID: "a", TargetID: "t2", LinkID: "l1", Contact: contact})

		assert.ErrorIs(t, err, campaign.ErrPermission)
	})

	t.Run("requires a valid email", func(t *testing.T) {
		rec := recorder.New(seeded(t), zap.NewNop())

		_, err := rec.RecordConversion(ctx, recorder.ConversionInput{TenantID: "a", TargetID: "t1", Contact: campaign.Contact{Email: "nope"}})

		assert.ErrorIs(t, err, campaign.ErrValidation)
	})
}
