// Package aggregator rolls raw visits and conversions up into daily summary rows.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/serroba/campaign-attribution/internal/attribution"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Mode tells incremental runs from backfills.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeBackfill    Mode = "backfill"
)

// State is the aggregator's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Store is the raw and summary data the aggregator reads and writes.
type Store interface {
	GetTarget(ctx context.Context, id string) (*campaign.Target, error)
	ListTargets(ctx context.Context, tenantID string) ([]campaign.Target, error)
	ListLinks(ctx context.Context, tenantID, targetID string) ([]campaign.Link, error)

	CountVisits(ctx context.Context, targetID string, w campaign.Window) (int64, error)
	CountConversions(ctx context.Context, targetID string, w campaign.Window) (int64, error)
	CountFormResponses(ctx context.Context, targetID string, w campaign.Window) (int64, error)
	CountParticipations(ctx context.Context, targetID string, w campaign.Window) (int64, error)
	CountClicks(ctx context.Context, targetID string, w campaign.Window) (int64, error)

	UpsertDailyStat(ctx context.Context, stat campaign.DailyStat) (bool, error)
}

// LinkStatter computes per-link attribution numbers.
type LinkStatter interface {
	ComputeAll(ctx context.Context, links []campaign.Link, w campaign.Window) (map[string]attribution.LinkStats, error)
}

// Config tunes a run.
type Config struct {
	MetricTimeout time.Duration
	Lookback      time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{MetricTimeout: 10 * time.Second, Lookback: 24 * time.Hour}
}

// Request selects what to aggregate. A nil From means an incremental run over the lookback.
type Request struct {
	From     *time.Time
	To       *time.Time
	EntityID string
}

// Summary reports what a run did.
type Summary struct {
	Mode              Mode      `json:"mode"`
	From              time.Time `json:"from"`
	To                time.Time `json:"to"`
	EntitiesProcessed int       `json:"entities_processed"`
	StatsUpserted     int       `json:"stats_upserted"`
	LinkStatsUpserted int       `json:"link_stats_upserted"`
	DegradedMetrics   int       `json:"degraded_metrics"`
	FailedUpserts     int       `json:"failed_upserts"`
	Partial           bool      `json:"partial"`
}

// Status is a snapshot of the aggregator state.
type Status struct {
	State  State
	Window campaign.Window
	Last   *Summary
}

// Aggregator implements daily aggregation.
type Aggregator struct {
	store  Store
	links  LinkStatter
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	mu     sync.Mutex
	status Status
}

// New creates an aggregator.
func New(store Store, links LinkStatter, cfg Config, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		links:  links,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
		status: Status{State: StateIdle},
	}
}

// Status returns the current state and the summary of the last finished run.
func (a *Aggregator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.status
}

func (a *Aggregator) setStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.status = s
}

// Run aggregates every UTC day touched by the requested window. Metric and upsert failures
// degrade the run instead of aborting it; only failing to list the targets is an error.
func (a *Aggregator) Run(ctx context.Context, req Request) (*Summary, error) {
	summary, err := a.plan(req)
	if err != nil {
		return nil, err
	}

	window := campaign.Window{From: summary.From, To: summary.To}
	last := a.Status().Last
	a.setStatus(Status{State: StateRunning, Window: window, Last: last})

	start := time.Now()

	targets, err := a.targets(ctx, req.EntityID)
	if err != nil {
		a.setStatus(Status{State: StateFailed, Window: window, Last: last})
		metrics.AggregationRuns.WithLabelValues(string(summary.Mode), "error").Inc()

		return nil, fmt.Errorf("list targets: %w", err)
	}

	buckets := dayBuckets(summary.From, summary.To)

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			break
		}

		a.aggregateTarget(ctx, target, buckets, summary)
		summary.EntitiesProcessed++
	}

	summary.Partial = summary.DegradedMetrics > 0 || summary.FailedUpserts > 0 || ctx.Err() != nil

	state, outcome := StateCompleted, "ok"
	if summary.Partial {
		state, outcome = StateFailed, "partial"

		a.logger.Warn("aggregation finished with gaps",
			zap.Error(campaign.ErrPartialAggregation),
			zap.Int("degraded_metrics", summary.DegradedMetrics),
			zap.Int("failed_upserts", summary.FailedUpserts),
		)
	}

	a.setStatus(Status{State: state, Window: window, Last: summary})
	metrics.AggregationRuns.WithLabelValues(string(summary.Mode), outcome).Inc()
	metrics.AggregationDuration.Observe(time.Since(start).Seconds())

	a.logger.Info("aggregation finished",
		zap.String("mode", string(summary.Mode)),
		zap.Time("from", summary.From),
		zap.Time("to", summary.To),
		zap.Int("entities", summary.EntitiesProcessed),
		zap.Int("stats_upserted", summary.StatsUpserted),
		zap.Int("link_stats_upserted", summary.LinkStatsUpserted),
	)

	return summary, nil
}

func (a *Aggregator) plan(req Request) (*Summary, error) {
	now := a.now().UTC()

	if req.From == nil {
		to := now
		if req.To != nil {
			to = req.To.UTC()
		}

		return &Summary{Mode: ModeIncremental, From: to.Add(-a.cfg.Lookback), To: to}, nil
	}

	to := now
	if req.To != nil {
		to = req.To.UTC()
	}

	from := req.From.UTC()
	if to.Before(from) {
		return nil, fmt.Errorf("%w: from %s is after to %s", campaign.ErrValidation, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	return &Summary{Mode: ModeBackfill, From: from, To: to}, nil
}

func (a *Aggregator) targets(ctx context.Context, entityID string) ([]campaign.Target, error) {
	if entityID == "" {
		return a.store.ListTargets(ctx, "")
	}

	target, err := a.store.GetTarget(ctx, entityID)
	if err != nil {
		return nil, err
	}

	return []campaign.Target{*target}, nil
}

// dayBuckets lists every UTC midnight from the day of from to the day of to, inclusive.
// A to falling exactly on midnight ends the range and adds no bucket of its own.
func dayBuckets(from, to time.Time) []time.Time {
	last := campaign.DayBucket(to)
	if to.Equal(last) && to.After(from) {
		last = last.AddDate(0, 0, -1)
	}

	var out []time.Time

	for day := campaign.DayBucket(from); !day.After(last); day = day.AddDate(0, 0, 1) {
		out = append(out, day)
	}

	return out
}

func (a *Aggregator) aggregateTarget(ctx context.Context, target campaign.Target, buckets []time.Time, summary *Summary) {
	links, err := a.store.ListLinks(ctx, target.TenantID, target.ID)
	if err != nil {
		a.logger.Warn("listing links failed, skipping link rows",
			zap.String("entity_id", target.ID), zap.Error(err))

		summary.FailedUpserts += len(buckets)
	}

	for _, bucket := range buckets {
		stat, degraded := a.computeBucket(ctx, target.ID, bucket)
		summary.DegradedMetrics += degraded

		if _, err := a.store.UpsertDailyStat(ctx, stat); err != nil {
			a.logger.Warn("upsert failed",
				zap.String("entity_id", target.ID), zap.Time("bucket", bucket), zap.Error(err))

			summary.FailedUpserts++
		} else {
			summary.StatsUpserted++
		}

		if len(links) > 0 {
			a.upsertLinkRows(ctx, target, links, bucket, summary)
		}
	}
}

type metric struct {
	name  string
	count func(ctx context.Context, targetID string, w campaign.Window) (int64, error)
}

func (a *Aggregator) metricSet() []metric {
	return []metric{
		{"visits", a.store.CountVisits},
		{"conversions", a.store.CountConversions},
		{"form_responses", a.store.CountFormResponses},
		{"participations", a.store.CountParticipations},
		{"clicks", a.store.CountClicks},
	}
}

// computeBucket runs every metric concurrently, each under its own timeout, and waits for all
// of them. A failed metric counts as zero.
func (a *Aggregator) computeBucket(ctx context.Context, targetID string, bucket time.Time) (campaign.DailyStat, int) {
	w := campaign.DayWindow(bucket)
	ms := a.metricSet()
	values := make([]int64, len(ms))
	errs := make([]error, len(ms))

	var g errgroup.Group

	for i, m := range ms {
		g.Go(func() error {
			mctx, cancel := context.WithTimeout(ctx, a.cfg.MetricTimeout)
			defer cancel()

			values[i], errs[i] = m.count(mctx, targetID, w)

			return nil
		})
	}

	_ = g.Wait()

	degraded := 0

	for i, err := range errs {
		if err == nil {
			continue
		}

		degraded++
		values[i] = 0

		metrics.AggregationMetricFailures.WithLabelValues(ms[i].name).Inc()
		a.logger.Warn("metric failed, counting zero",
			zap.String("metric", ms[i].name),
			zap.String("entity_id", targetID),
			zap.Time("bucket", bucket),
			zap.Error(err),
		)
	}

	return campaign.DailyStat{
		EntityID:         targetID,
		BucketDate:       bucket,
		Visits:           values[0],
		Conversions:      values[1],
		FormResponses:    values[2],
		Participations:   values[3],
		Clicks:           values[4],
		LastAggregatedAt: a.now().UTC(),
	}, degraded
}

func (a *Aggregator) upsertLinkRows(
	ctx context.Context,
	target campaign.Target,
	links []campaign.Link,
	bucket time.Time,
	summary *Summary,
) {
	stats, err := a.links.ComputeAll(ctx, links, campaign.DayWindow(bucket))
	if err != nil {
		a.logger.Warn("link stats failed",
			zap.String("entity_id", target.ID), zap.Time("bucket", bucket), zap.Error(err))

		summary.FailedUpserts += len(links)

		return
	}

	for _, link := range links {
		s := stats[link.ID]

		_, err := a.store.UpsertDailyStat(ctx, campaign.DailyStat{
			EntityID:         target.ID,
			LinkID:           link.ID,
			BucketDate:       bucket,
			Visits:           s.Visits,
			Conversions:      s.Conversions,
			LastAggregatedAt: a.now().UTC(),
		})
		if err != nil {
			a.logger.Warn("link upsert failed",
				zap.String("link_id", link.ID), zap.Time("bucket", bucket), zap.Error(err))

			summary.FailedUpserts++

			continue
		}

		summary.LinkStatsUpserted++
	}
}
