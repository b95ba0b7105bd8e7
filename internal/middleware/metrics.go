package middleware

import (
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/campaign-attribution/internal/metrics"
)

// Metrics records request counts and latencies labelled by route template.
func Metrics(_ huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()

		next(ctx)

		path := operationPath(ctx)
		status := ctx.Status()

		if status == 0 {
			status = 200
		}

		metrics.HTTPRequests.WithLabelValues(ctx.Method(), path, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(ctx.Method(), path).Observe(time.Since(start).Seconds())
	}
}
