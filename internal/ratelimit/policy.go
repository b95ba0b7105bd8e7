package ratelimit

import "time"

// LimitConfig allows at most Max requests per sliding Window.
type LimitConfig struct {
	Window time.Duration
	Max    int64
}

// Policy maps each scope to the limits that apply to it.
type Policy struct {
	Limits map[Scope][]LimitConfig
}

// PolicyBuilder assembles a Policy.
type PolicyBuilder struct {
	policy *Policy
}

// NewPolicyBuilder starts an empty policy.
func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{policy: &Policy{Limits: make(map[Scope][]LimitConfig)}}
}

// AddLimit appends a limit of max requests per window to scope.
func (b *PolicyBuilder) AddLimit(scope Scope, limitMax int64, window time.Duration) *PolicyBuilder {
	b.policy.Limits[scope] = append(b.policy.Limits[scope], LimitConfig{Window: window, Max: limitMax})

	return b
}

// Build returns the assembled policy.
func (b *PolicyBuilder) Build() *Policy {
	return b.policy
}

// DefaultPolicy is the policy the API server runs with. Public traffic (redirects and
// landing visits) has its own budget so a busy campaign cannot starve the tenant API.
func DefaultPolicy() *Policy {
	return NewPolicyBuilder().
		AddLimit(ScopeGlobal, 3000, time.Minute).
		AddLimit(ScopeRead, 600, time.Minute).
		AddLimit(ScopeWrite, 60, time.Minute).
		AddLimit(ScopeWrite, 1000, time.Hour).
		AddLimit(ScopePublic, 1200, time.Minute).
		Build()
}
