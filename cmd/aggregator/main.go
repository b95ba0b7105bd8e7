package main

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/samber/do"
	"github.com/serroba/campaign-attribution/internal/aggregator"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/container"
	"go.uber.org/zap"
)

// Options configures the aggregator. Without --from it runs incrementally every interval;
// with --from it backfills the range once and exits.
type Options struct {
	DatabaseURL          string `help:"Postgres connection string, empty for in-memory storage"`
	LogFormat            string `default:"console" help:"Log encoding: console or json"`
	MetricTimeoutSeconds int    `default:"10"      help:"Per-metric timeout"`
	IntervalMinutes      int    `default:"5"       help:"Interval between incremental runs"`
	Once                 bool   `help:"Run a single incremental pass and exit"`
	From                 string `help:"Backfill start, RFC 3339 or YYYY-MM-DD"`
	To                   string `help:"Backfill end, RFC 3339 or YYYY-MM-DD (inclusive)"`
	EntityID             string `help:"Only aggregate this event"`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *Options) {
		injector := do.New()
		do.ProvideValue(injector, &container.Options{
			DatabaseURL:              options.DatabaseURL,
			LogFormat:                options.LogFormat,
			MetricTimeoutSeconds:     options.MetricTimeoutSeconds,
			AggregateIntervalMinutes: options.IntervalMinutes,
		})
		container.LoggerPackage(injector)
		container.PostgresPackage(injector)
		container.RepositoryPackage(injector)
		container.ServicePackage(injector)

		logger := do.MustInvoke[*zap.Logger](injector)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		hooks.OnStart(func() {
			defer close(done)
			defer cancel()

			agg := do.MustInvoke[*aggregator.Aggregator](injector)

			req, err := backfillRequest(options)
			if err != nil {
				logger.Fatal("invalid range", zap.Error(err))
			}

			if req.From != nil || options.Once {
				run(ctx, agg, req, logger)
			} else {
				loop(ctx, agg, do.MustInvoke[*container.Options](injector).AggregateInterval(), logger)
			}

			if err := injector.Shutdown(); err != nil {
				logger.Error("shutdown error", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			logger.Info("shutting down")
			cancel()
			<-done
		})
	})

	cli.Run()
}

func backfillRequest(options *Options) (aggregator.Request, error) {
	from, err := campaign.ParseBound(options.From, false)
	if err != nil {
		return aggregator.Request{}, err
	}

	to, err := campaign.ParseBound(options.To, true)
	if err != nil {
		return aggregator.Request{}, err
	}

	return aggregator.Request{From: from, To: to, EntityID: options.EntityID}, nil
}

func loop(ctx context.Context, agg *aggregator.Aggregator, interval time.Duration, logger *zap.Logger) {
	logger.Info("aggregator started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run(ctx, agg, aggregator.Request{}, logger)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func run(ctx context.Context, agg *aggregator.Aggregator, req aggregator.Request, logger *zap.Logger) {
	summary, err := agg.Run(ctx, req)
	if err != nil {
		logger.Error("aggregation failed", zap.Error(err))

		return
	}

	logger.Info("aggregation finished",
		zap.String("mode", string(summary.Mode)),
		zap.Time("from", summary.From),
		zap.Time("to", summary.To),
		zap.Int("entities", summary.EntitiesProcessed),
		zap.Int("stats_upserted", summary.StatsUpserted),
		zap.Int("link_stats_upserted", summary.LinkStatsUpserted),
		zap.Bool("partial", summary.Partial),
	)
}
