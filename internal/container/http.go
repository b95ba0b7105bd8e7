package container

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
	"github.com/serroba/campaign-attribution/internal/aggregator"
	"github.com/serroba/campaign-attribution/internal/attribution"
	"github.com/serroba/campaign-attribution/internal/auth"
	"github.com/serroba/campaign-attribution/internal/estimator"
	"github.com/serroba/campaign-attribution/internal/gateway"
	"github.com/serroba/campaign-attribution/internal/handlers"
	"github.com/serroba/campaign-attribution/internal/health"
	"github.com/serroba/campaign-attribution/internal/middleware"
	"github.com/serroba/campaign-attribution/internal/ratelimit"
	"github.com/serroba/campaign-attribution/internal/recorder"
	"github.com/serroba/campaign-attribution/internal/registry"
	"github.com/serroba/campaign-attribution/internal/store"
	"go.uber.org/zap"
)

// RateLimitPackage provides the policy limiter, Redis-backed unless the bus is in memory.
func RateLimitPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*ratelimit.PolicyLimiter, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.withoutRedis() {
			do.MustInvoke[*zap.Logger](i).Warn("in-memory rate limits, counts are per process")

			return ratelimit.NewPolicyLimiter(store.NewRateLimitMemoryStore(), ratelimit.DefaultPolicy()), nil
		}

		client := do.MustInvoke[*RedisClient](i)

		return ratelimit.NewPolicyLimiter(store.NewRateLimitRedisStore(client.Client), ratelimit.DefaultPolicy()), nil
	})
}

// HTTPPackage provides the router and the huma API with every route registered.
func HTTPPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(i, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		router := do.MustInvoke[*chi.Mux](i)

		api := humachi.New(router, huma.DefaultConfig("Campaign Attribution", "1.0.0"))

		if opts.JWTSecret == "" {
			logger.Warn("no jwt secret, tenant endpoints reject every request")
		}

		if opts.SchedulerSecret == "" {
			logger.Warn("no scheduler secret, internal endpoints are open")
		}

		api.UseMiddleware(
			middleware.Metrics(api),
			middleware.RequestMeta(api),
			middleware.Authenticate(api, auth.NewTokenVerifier(opts.JWTSecret), opts.SchedulerSecret, logger),
			middleware.PolicyRateLimiter(
				api,
				do.MustInvoke[*ratelimit.PolicyLimiter](i),
				ratelimit.NewOperationScopeResolver(),
				logger,
			),
		)

		handlers.RegisterRoutes(api, handlers.Handlers{
			Links: handlers.NewLinkHandler(
				do.MustInvoke[*registry.Service](i), do.MustInvoke[*attribution.Resolver](i), logger,
			),
			Redirect:  handlers.NewRedirectHandler(do.MustInvoke[*gateway.Gateway](i), logger),
			Recording: handlers.NewRecordingHandler(do.MustInvoke[*recorder.Recorder](i), logger),
			Jobs: handlers.NewJobsHandler(
				do.MustInvoke[*aggregator.Aggregator](i), do.MustInvoke[*estimator.Reporter](i), logger,
			),
		})

		checkers := map[string]health.Checker{}

		if !opts.withoutRedis() {
			checkers["redis"] = health.NewRedisChecker(do.MustInvoke[*RedisClient](i).Client)
		}

		if opts.DatabaseURL != "" {
			checkers["postgres"] = health.NewPostgresChecker(do.MustInvoke[*PostgresPool](i).Pool)
		}

		health.RegisterRoutes(api, health.NewHandler(checkers))

		router.Handle("/metrics", promhttp.Handler())

		return api, nil
	})
}
