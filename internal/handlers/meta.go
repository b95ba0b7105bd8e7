package handlers

import "context"

// RequestMeta holds the visitor details the middleware extracts from each request.
type RequestMeta struct {
	ClientIP  string
	UserAgent string
	Referrer  string
}

type requestMetaKey struct{}

// ContextWithRequestMeta adds request metadata to context.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext extracts request metadata from context.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	if v, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		return v
	}

	return RequestMeta{}
}
