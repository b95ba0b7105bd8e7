package ratelimit

import (
	"context"
	"time"
)

// Store counts requests per key over a sliding window.
type Store interface {
	// Record adds one request under key and returns how many fall inside the window.
	Record(ctx context.Context, key string, window time.Duration) (count int64, err error)
}
