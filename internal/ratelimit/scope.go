package ratelimit

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// Scope is a bucket of requests sharing rate limits.
type Scope string

const (
	// ScopeGlobal applies to every request.
	ScopeGlobal Scope = "global"
	// ScopeRead applies to authenticated GET, HEAD and OPTIONS requests.
	ScopeRead Scope = "read"
	// ScopeWrite applies to authenticated requests that change state.
	ScopeWrite Scope = "write"
	// ScopePublic applies to unauthenticated traffic such as short link redirects.
	ScopePublic Scope = "public"
)

// MetadataKey is the operation metadata key holding an EndpointConfig.
const MetadataKey = "rateLimit"

// EndpointConfig overrides rate limiting for one operation.
//
// Limits, when set, replace the policy limits entirely and Scope is ignored.
// Otherwise Scope replaces the method based scope, and an empty Scope keeps it.
type EndpointConfig struct {
	Scope    Scope
	Limits   []LimitConfig
	Disabled bool
}

// ScopeResolver determines which scopes apply to a request.
type ScopeResolver interface {
	Resolve(ctx huma.Context) []Scope
}

// OperationScopeResolver reads the scope from operation metadata and falls back to the
// HTTP method.
type OperationScopeResolver struct{}

// NewOperationScopeResolver creates a resolver.
func NewOperationScopeResolver() *OperationScopeResolver {
	return &OperationScopeResolver{}
}

// Resolve always includes ScopeGlobal.
func (r *OperationScopeResolver) Resolve(ctx huma.Context) []Scope {
	if cfg := GetEndpointConfig(ctx); cfg != nil && cfg.Scope != "" {
		return []Scope{ScopeGlobal, cfg.Scope}
	}

	switch ctx.Method() {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return []Scope{ScopeGlobal, ScopeRead}
	default:
		return []Scope{ScopeGlobal, ScopeWrite}
	}
}

// GetEndpointConfig returns the operation's EndpointConfig, or nil.
func GetEndpointConfig(ctx huma.Context) *EndpointConfig {
	op := ctx.Operation()
	if op == nil || op.Metadata == nil {
		return nil
	}

	cfg, ok := op.Metadata[MetadataKey].(EndpointConfig)
	if !ok {
		return nil
	}

	return &cfg
}
