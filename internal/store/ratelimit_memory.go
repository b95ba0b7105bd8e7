package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

// RateLimitMemoryStore keeps the limiter's sliding windows in process memory. It backs the
// limiter when the server runs without Redis, so its counts are per replica.
type RateLimitMemoryStore struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	now      func() time.Time
}

// RateLimitMemoryOption configures a RateLimitMemoryStore.
type RateLimitMemoryOption func(*RateLimitMemoryStore)

// WithClock replaces time.Now as the source of request timestamps.
func WithClock(now func() time.Time) RateLimitMemoryOption {
	return func(s *RateLimitMemoryStore) {
		s.now = now
	}
}

// NewRateLimitMemoryStore creates an empty in-memory limiter store.
func NewRateLimitMemoryStore(opts ...RateLimitMemoryOption) *RateLimitMemoryStore {
	s := &RateLimitMemoryStore{
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Record adds a request at the current time and returns the count inside (now-window, now].
func (s *RateLimitMemoryStore) Record(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	timestamps := slices.DeleteFunc(s.requests[key], func(ts time.Time) bool {
		return !ts.After(cutoff)
	})
	timestamps = append(timestamps, now)
	s.requests[key] = timestamps

	return int64(len(timestamps)), nil
}
