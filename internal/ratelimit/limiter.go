package ratelimit

import (
	"context"
	"fmt"
)

// LimitExceeded describes the limit a request ran into.
type LimitExceeded struct {
	Scope  Scope
	Config LimitConfig
	Count  int64
}

// PolicyLimiter enforces a Policy over a sliding window Store.
type PolicyLimiter struct {
	store  Store
	policy *Policy
}

// NewPolicyLimiter creates a limiter.
func NewPolicyLimiter(store Store, policy *Policy) *PolicyLimiter {
	return &PolicyLimiter{store: store, policy: policy}
}

// Allow records one request for clientKey in every scope and reports the first limit exceeded.
func (l *PolicyLimiter) Allow(ctx context.Context, clientKey string, scopes []Scope) (bool, *LimitExceeded, error) {
	for _, scope := range scopes {
		for _, limit := range l.policy.Limits[scope] {
			key := fmt.Sprintf("%s:%s:%d", clientKey, scope, limit.Window.Milliseconds())

			count, err := l.store.Record(ctx, key, limit.Window)
			if err != nil {
				return false, nil, fmt.Errorf("record %s: %w", scope, err)
			}

			if count > limit.Max {
				return false, &LimitExceeded{Scope: scope, Config: limit, Count: count}, nil
			}
		}
	}

	return true, nil, nil
}

// Store returns the underlying store, used for per-endpoint limits.
func (l *PolicyLimiter) Store() Store {
	return l.store
}
