package container

import (
	"fmt"

	"github.com/samber/do"
	"github.com/serroba/campaign-attribution/internal/aggregator"
	"github.com/serroba/campaign-attribution/internal/analytics"
	"github.com/serroba/campaign-attribution/internal/attribution"
	"github.com/serroba/campaign-attribution/internal/estimator"
	"github.com/serroba/campaign-attribution/internal/gateway"
	"github.com/serroba/campaign-attribution/internal/messaging"
	"github.com/serroba/campaign-attribution/internal/recorder"
	"github.com/serroba/campaign-attribution/internal/registry"
	"github.com/serroba/campaign-attribution/internal/store"
	"go.uber.org/zap"
)

// RecorderPackage provides the visit and conversion recorder.
func RecorderPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*recorder.Recorder, error) {
		return recorder.New(do.MustInvoke[store.Repository](i), do.MustInvoke[*zap.Logger](i)), nil
	})
}

// ServicePackage provides the link registry, attribution resolver, aggregator and estimator.
func ServicePackage(i *do.Injector) {
	RecorderPackage(i)

	do.Provide(i, func(i *do.Injector) (*registry.Service, error) {
		opts := do.MustInvoke[*Options](i)

		cids, err := registry.NewCIDGenerator()
		if err != nil {
			return nil, fmt.Errorf("cid generator: %w", err)
		}

		codes, err := registry.NewShortCodeGenerator(opts.CodeLength)
		if err != nil {
			return nil, fmt.Errorf("short code generator: %w", err)
		}

		return registry.NewService(
			do.MustInvoke[store.Repository](i), cids, codes, opts.BaseURL, do.MustInvoke[*zap.Logger](i),
		), nil
	})

	do.Provide(i, func(i *do.Injector) (*attribution.Resolver, error) {
		return attribution.NewResolver(
			do.MustInvoke[store.Repository](i),
			do.MustInvoke[*registry.Service](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	do.Provide(i, func(i *do.Injector) (*aggregator.Aggregator, error) {
		opts := do.MustInvoke[*Options](i)

		cfg := aggregator.DefaultConfig()
		cfg.MetricTimeout = opts.metricTimeout()

		return aggregator.New(
			do.MustInvoke[store.Repository](i), do.MustInvoke[*attribution.Resolver](i), cfg, do.MustInvoke[*zap.Logger](i),
		), nil
	})

	do.Provide(i, func(i *do.Injector) (*estimator.Reporter, error) {
		opts := do.MustInvoke[*Options](i)

		var rules *estimator.RuleSet

		if opts.EstimatorRules != "" {
			loaded, err := estimator.LoadRules(opts.EstimatorRules)
			if err != nil {
				return nil, err
			}

			rules = loaded
		}

		return estimator.NewReporter(
			do.MustInvoke[store.Repository](i), estimator.New(rules), do.MustInvoke[*zap.Logger](i),
		), nil
	})
}

// GatewayPackage provides the click gateway. It reads through the cached link source.
func GatewayPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*gateway.Gateway, error) {
		opts := do.MustInvoke[*Options](i)

		cfg := gateway.DefaultConfig()
		cfg.LogTimeout = opts.accessLogTimeout()

		return gateway.New(
			do.MustInvoke[store.LinkSource](i),
			do.MustInvoke[messaging.Publish[analytics.AccessLoggedEvent]](i),
			cfg,
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
}
