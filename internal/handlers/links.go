package handlers

import (
	"context"
	"time"

	"github.com/serroba/campaign-attribution/internal/attribution"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/registry"
	"go.uber.org/zap"
)

// LinkHandler serves the tenant link API.
type LinkHandler struct {
	registry *registry.Service
	resolver *attribution.Resolver
	logger   *zap.Logger
}

// NewLinkHandler creates a link handler.
func NewLinkHandler(reg *registry.Service, resolver *attribution.Resolver, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{registry: reg, resolver: resolver, logger: logger}
}

func (h *LinkHandler) CreateLink(ctx context.Context, req *CreateLinkRequest) (*LinkResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	view, err := h.registry.CreateLink(ctx, registry.CreateLinkInput{
		TenantID:  p.TenantID,
		TargetID:  req.TargetID,
		Name:      req.Body.Name,
		Variant:   campaign.Variant(req.Body.LandingVariant),
		UTM:       req.Body.UTM,
		StartDate: req.Body.StartDate,
		CreatedBy: p.Subject,
	})
	if err != nil {
		return nil, hideForeign(h.logger, err)
	}

	return &LinkResponse{Body: newLinkBody(*view)}, nil
}

func (h *LinkHandler) UpdateLink(ctx context.Context, req *UpdateLinkRequest) (*LinkResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	utm := req.Body.UTM
	in := registry.UpdateLinkInput{
		TenantID:  p.TenantID,
		LinkID:    req.LinkID,
		Name:      &req.Body.Name,
		UTM:       &utm,
		StartDate: req.Body.StartDate,
	}

	if req.Body.TargetID != "" {
		in.TargetID = &req.Body.TargetID
	}

	if req.Body.LandingVariant != "" {
		variant := campaign.Variant(req.Body.LandingVariant)
		in.Variant = &variant
	}

	if req.Body.Status != "" {
		status := campaign.Status(req.Body.Status)
		in.Status = &status
	}

	view, err := h.registry.UpdateLink(ctx, in)
	if err != nil {
		return nil, hideForeign(h.logger, err)
	}

	return &LinkResponse{Body: newLinkBody(*view)}, nil
}

func (h *LinkHandler) ListLinks(ctx context.Context, req *ListLinksRequest) (*ListLinksResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	w, err := parseWindow(req.From, req.To)
	if err != nil {
		return nil, err
	}

	links, err := h.resolver.ListLinksWithStats(ctx, p.TenantID, req.TargetID, w)
	if err != nil {
		return nil, hideForeign(h.logger, err)
	}

	resp := &ListLinksResponse{}
	resp.Body.Links = make([]LinkStatsBody, 0, len(links))

	for _, l := range links {
		resp.Body.Links = append(resp.Body.Links, newLinkStatsBody(l))
	}

	return resp, nil
}

func (h *LinkHandler) LinkStats(ctx context.Context, req *LinkStatsRequest) (*LinkStatsResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	w, err := parseWindow(req.From, req.To)
	if err != nil {
		return nil, err
	}

	report, err := h.resolver.Report(ctx, p.TenantID, req.LinkID, w)
	if err != nil {
		return nil, hideForeign(h.logger, err)
	}

	resp := &LinkStatsResponse{}
	resp.Body.Link = newLinkStatsBody(report.LinkWithStats)
	resp.Body.From = report.Range.From
	resp.Body.To = report.Range.To
	resp.Body.Series = make([]DayBody, 0, len(report.Series))

	for _, day := range report.Series {
		resp.Body.Series = append(resp.Body.Series, DayBody{
			Date:        day.Date.Format(time.DateOnly),
			Visits:      day.Visits,
			Conversions: day.Conversions,
		})
	}

	return resp, nil
}

func (h *LinkHandler) ArchiveLink(ctx context.Context, req *ArchiveLinkRequest) (*struct{}, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	if err := h.registry.ArchiveLink(ctx, p.TenantID, req.LinkID); err != nil {
		return nil, hideForeign(h.logger, err)
	}

	h.logger.Info("link archived", zap.String("tenant_id", p.TenantID), zap.String("link_id", req.LinkID))

	return nil, nil
}

func (h *LinkHandler) CreateShortLink(ctx context.Context, req *CreateShortLinkRequest) (*CreateShortLinkResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	created, err := h.registry.CreateShortLink(ctx, registry.ShortLinkInput{
		TenantID:  p.TenantID,
		TargetID:  req.TargetID,
		LinkID:    req.Body.LinkID,
		ExpiresAt: req.Body.ExpiresAt,
	})
	if err != nil {
		return nil, hideForeign(h.logger, err)
	}

	resp := &CreateShortLinkResponse{}
	resp.Body.Code = created.ShortLink.Code
	resp.Body.ShortURL = created.ShortURL
	resp.Body.TargetID = created.ShortLink.TargetID
	resp.Body.LinkID = created.ShortLink.LinkID
	resp.Body.ExpiresAt = created.ShortLink.ExpiresAt

	return resp, nil
}
