package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/campaign-attribution/internal/auth"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"go.uber.org/zap"
)

// toHTTPError maps domain errors to problem responses. Unexpected errors are logged and
// reported without detail.
func toHTTPError(logger *zap.Logger, err error) error {
	switch {
	case errors.Is(err, campaign.ErrValidation), errors.Is(err, campaign.ErrConflict):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, campaign.ErrNotFound):
		return huma.Error404NotFound("not found")
	case errors.Is(err, campaign.ErrPermission):
		return huma.Error403Forbidden("forbidden")
	case errors.Is(err, campaign.ErrExhaustedRetry):
		logger.Error("code allocation exhausted", zap.Error(err))

		return huma.Error500InternalServerError("could not allocate a unique code, retry later")
	default:
		logger.Error("request failed", zap.Error(err))

		return huma.Error500InternalServerError("internal server error")
	}
}

// hideForeign reports resources of other tenants as missing.
func hideForeign(logger *zap.Logger, err error) error {
	if errors.Is(err, campaign.ErrPermission) {
		return huma.Error404NotFound("not found")
	}

	return toHTTPError(logger, err)
}

func principal(ctx context.Context) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok || p.TenantID == "" {
		return auth.Principal{}, huma.Error401Unauthorized("missing tenant")
	}

	return p, nil
}

func parseTime(name, value string, end bool) (*time.Time, error) {
	t, err := campaign.ParseBound(value, end)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid " + name + ": use RFC 3339 or YYYY-MM-DD")
	}

	return t, nil
}

func parseWindow(from, to string) (campaign.Window, error) {
	f, err := parseTime("from", from, false)
	if err != nil {
		return campaign.Window{}, err
	}

	t, err := parseTime("to", to, true)
	if err != nil {
		return campaign.Window{}, err
	}

	var w campaign.Window
	if f != nil {
		w.From = *f
	}

	if t != nil {
		w.To = *t
	}

	if f != nil && t != nil && w.To.Before(w.From) {
		return campaign.Window{}, huma.Error400BadRequest("from must not be after to")
	}

	return w, nil
}
