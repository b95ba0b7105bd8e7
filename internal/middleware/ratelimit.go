package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/campaign-attribution/internal/auth"
	"github.com/serroba/campaign-attribution/internal/ratelimit"
	"go.uber.org/zap"
)

// PolicyRateLimiter applies the limiter's policy to every request. It must run after
// Authenticate so tenant calls are counted per tenant instead of per client address.
//
// Operations may carry a ratelimit.EndpointConfig under ratelimit.MetadataKey to disable
// limiting, pick a scope or replace the policy with their own limits.
//
// When the store fails, public operations are let through and everything else answers 500.
func PolicyRateLimiter(
	api huma.API,
	limiter *ratelimit.PolicyLimiter,
	resolver ratelimit.ScopeResolver,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		cfg := ratelimit.GetEndpointConfig(ctx)

		if cfg != nil && cfg.Disabled {
			next(ctx)

			return
		}

		key := clientKey(ctx)
		scopes := resolver.Resolve(ctx)
		public := slices.Contains(scopes, ratelimit.ScopePublic)

		if cfg != nil && len(cfg.Limits) > 0 {
			if checkCustomLimits(api, ctx, limiter.Store(), key, cfg.Limits, public, logger) {
				next(ctx)
			}

			return
		}

		allowed, exceeded, err := limiter.Allow(ctx.Context(), key, scopes)
		if err != nil {
			if storeFailed(api, ctx, public, err, logger) {
				next(ctx)
			}

			return
		}

		if !allowed {
			logger.Warn("rate limit exceeded",
				zap.String("path", operationPath(ctx)),
				zap.String("scope", string(exceeded.Scope)),
				zap.Int64("count", exceeded.Count),
				zap.Int64("max", exceeded.Config.Max),
				zap.Duration("window", exceeded.Config.Window),
				zap.String("client_ip", clientIP(ctx)),
			)
			_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, fmt.Sprintf(
				"rate limit exceeded: %s scope, %d/%d requests in %s",
				exceeded.Scope, exceeded.Count, exceeded.Config.Max, exceeded.Config.Window))

			return
		}

		next(ctx)
	}
}

// clientKey identifies the caller: the tenant when authenticated, otherwise a hash of
// client IP and user agent.
func clientKey(ctx huma.Context) string {
	if p, ok := auth.PrincipalFromContext(ctx.Context()); ok {
		return "tenant:" + p.TenantID
	}

	hash := sha256.Sum256([]byte(clientIP(ctx) + "|" + ctx.Header("User-Agent")))

	return "client:" + hex.EncodeToString(hash[:])
}

// checkCustomLimits counts the request against per-endpoint limits keyed by route template,
// so every request matching "/s/{code}" shares one counter per client.
func checkCustomLimits(
	api huma.API,
	ctx huma.Context,
	store ratelimit.Store,
	key string,
	limits []ratelimit.LimitConfig,
	public bool,
	logger *zap.Logger,
) bool {
	path := operationPath(ctx)

	for _, limit := range limits {
		count, err := store.Record(ctx.Context(),
			fmt.Sprintf("%s:route:%s:%d", key, path, limit.Window.Milliseconds()), limit.Window)
		if err != nil {
			return storeFailed(api, ctx, public, err, logger)
		}

		if count > limit.Max {
			logger.Warn("custom rate limit exceeded",
				zap.String("path", path),
				zap.Int64("count", count),
				zap.Int64("max", limit.Max),
				zap.String("client_ip", clientIP(ctx)),
			)
			_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests,
				fmt.Sprintf("rate limit exceeded: %d/%d requests in %s", count, limit.Max, limit.Window))

			return false
		}
	}

	return true
}

// storeFailed reports whether the request may proceed after the limiter store failed.
// Public operations fail open; the rest get a 500.
func storeFailed(api huma.API, ctx huma.Context, public bool, err error, logger *zap.Logger) bool {
	if public {
		logger.Warn("rate limit store unavailable, allowing public request",
			zap.String("path", operationPath(ctx)), zap.Error(err))

		return true
	}

	logger.Error("rate limit check failed", zap.String("path", operationPath(ctx)), zap.Error(err))
	_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error")

	return false
}
