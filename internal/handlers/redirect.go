package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/serroba/campaign-attribution/internal/gateway"
	"go.uber.org/zap"
)

const (
	// SessionCookie carries the visitor session between the redirect and the landing page.
	SessionCookie = "ef_session_id"

	sessionCookieMaxAge = 30 * 24 * time.Hour
)

// RedirectHandler serves short link redirects.
type RedirectHandler struct {
	gateway *gateway.Gateway
	logger  *zap.Logger
}

// NewRedirectHandler creates a redirect handler.
func NewRedirectHandler(gw *gateway.Gateway, logger *zap.Logger) *RedirectHandler {
	return &RedirectHandler{gateway: gw, logger: logger}
}

// Redirect never fails: unknown, expired or broken codes send the visitor to the site root.
func (h *RedirectHandler) Redirect(ctx context.Context, req *RedirectRequest) (*RedirectResponse, error) {
	meta := RequestMetaFromContext(ctx)

	redirect, err := h.gateway.Redirect(ctx, req.Code, gateway.RedirectRequest{
		Query:     req.Query,
		SessionID: req.SessionID,
		ClientIP:  meta.ClientIP,
		UserAgent: meta.UserAgent,
		Referrer:  meta.Referrer,
	})
	if err != nil {
		h.logger.Info("short link not redirected", zap.String("code", req.Code), zap.Error(err))

		return &RedirectResponse{Status: http.StatusTemporaryRedirect, Location: "/"}, nil
	}

	cookie := &http.Cookie{
		Name:     SessionCookie,
		Value:    redirect.SessionID,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &RedirectResponse{
		Status:    http.StatusTemporaryRedirect,
		Location:  redirect.Location,
		SetCookie: cookie.String(),
	}, nil
}
