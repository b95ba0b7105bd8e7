package middleware

import (
	"net"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// clientIP returns the originating client address, trusting the first X-Forwarded-For hop
// and then X-Real-IP before the connection address.
func clientIP(ctx huma.Context) string {
	if xff := ctx.Header("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	if xri := ctx.Header("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	addr := ctx.RemoteAddr()
	if addr == "" {
		addr = ctx.Host()
	}

	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return ip
}

func operationPath(ctx huma.Context) string {
	if op := ctx.Operation(); op != nil {
		return op.Path
	}

	return ""
}
