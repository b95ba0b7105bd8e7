// Package auth verifies tenant tokens and the scheduler secret guarding internal jobs.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MetadataKey is the operation metadata key holding the Level an endpoint requires.
const MetadataKey = "auth"

// Level is the kind of caller an endpoint accepts.
type Level string

const (
	// LevelTenant requires a signed tenant token.
	LevelTenant Level = "tenant"
	// LevelScheduler requires the scheduler bearer secret when one is configured.
	LevelScheduler Level = "scheduler"
)

var ErrUnauthorized = errors.New("unauthorized")

// Principal is the authenticated tenant user.
type Principal struct {
	TenantID string
	Subject  string
}

type principalKey struct{}

// ContextWithPrincipal stores p in ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)

	return p, ok
}

// Claims are the tenant token claims.
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 tenant tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for tokens signed with secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses token and returns its principal.
func (v *TokenVerifier) Verify(token string) (Principal, error) {
	if len(v.secret) == 0 {
		return Principal{}, fmt.Errorf("%w: no signing secret configured", ErrUnauthorized)
	}

	claims := &Claims{}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	if claims.TenantID == "" {
		return Principal{}, fmt.Errorf("%w: token has no tenant", ErrUnauthorized)
	}

	return Principal{TenantID: claims.TenantID, Subject: claims.Subject}, nil
}

// IssueToken signs a tenant token valid for ttl.
func IssueToken(secret, tenantID, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// SchedulerAllowed reports whether the Authorization header carries the scheduler secret.
// An empty secret leaves scheduler endpoints open.
func SchedulerAllowed(secret, authorization string) bool {
	if secret == "" {
		return true
	}

	token := BearerToken(authorization)

	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authorization string) string {
	scheme, token, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}
