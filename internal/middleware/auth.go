package middleware

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/campaign-attribution/internal/auth"
	"go.uber.org/zap"
)

// Authenticate enforces the auth.Level declared in operation metadata. Tenant endpoints get
// the verified principal in their context; operations without a level pass through.
func Authenticate(
	api huma.API,
	verifier *auth.TokenVerifier,
	schedulerSecret string,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		switch requiredLevel(ctx) {
		case auth.LevelTenant:
			principal, err := verifier.Verify(auth.BearerToken(ctx.Header("Authorization")))
			if err != nil {
				logger.Debug("rejected tenant token",
					zap.String("path", operationPath(ctx)),
					zap.String("client_ip", clientIP(ctx)),
					zap.Error(err),
				)
				_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid or missing token")

				return
			}

			next(huma.WithContext(ctx, auth.ContextWithPrincipal(ctx.Context(), principal)))
		case auth.LevelScheduler:
			if !auth.SchedulerAllowed(schedulerSecret, ctx.Header("Authorization")) {
				logger.Warn("rejected scheduler call",
					zap.String("path", operationPath(ctx)),
					zap.String("client_ip", clientIP(ctx)),
				)
				_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "unauthorized")

				return
			}

			next(ctx)
		default:
			next(ctx)
		}
	}
}

func requiredLevel(ctx huma.Context) auth.Level {
	op := ctx.Operation()
	if op == nil || op.Metadata == nil {
		return ""
	}

	level, _ := op.Metadata[auth.MetadataKey].(auth.Level)

	return level
}
