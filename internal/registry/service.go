// Package registry creates campaign links with tenant-unique CIDs and issues short codes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/metrics"
	"go.uber.org/zap"
)

// Store is the persistence the registry depends on.
type Store interface {
	GetTenant(ctx context.Context, id string) (*campaign.Tenant, error)
	GetTarget(ctx context.Context, id string) (*campaign.Target, error)
	CIDExists(ctx context.Context, tenantID, cid string) (bool, error)
	InsertLink(ctx context.Context, link *campaign.Link) error
	GetLink(ctx context.Context, tenantID, id string) (*campaign.Link, error)
	ListLinks(ctx context.Context, tenantID, targetID string) ([]campaign.Link, error)
	SetLinkStatus(ctx context.Context, tenantID, id string, status campaign.Status) error
	UpdateLink(ctx context.Context, link *campaign.Link) error
	InsertShortLink(ctx context.Context, link *campaign.ShortLink) error
}

// CreateLinkInput describes a new campaign link.
type CreateLinkInput struct {
	TenantID  string           `validate:"required"`
	TargetID  string           `validate:"required"`
	Name      string           `validate:"required,max=200"`
	Variant   campaign.Variant `validate:"variant"`
	UTM       campaign.UTM
	StartDate *time.Time
	CreatedBy string
}

// UpdateLinkInput changes an existing link. Nil fields keep their stored values.
type UpdateLinkInput struct {
	TenantID  string  `validate:"required"`
	LinkID    string  `validate:"required"`
	Name      *string `validate:"omitempty,max=200"`
	TargetID  *string
	Variant   *campaign.Variant
	UTM       *campaign.UTM
	StartDate *time.Time
	Status    *campaign.Status
}

// ShortLinkInput describes a new short link.
type ShortLinkInput struct {
	TenantID  string `validate:"required"`
	TargetID  string `validate:"required"`
	LinkID    string
	ExpiresAt *time.Time
}

// LinkView is a link together with its target and both shareable URLs.
type LinkView struct {
	Link        campaign.Link
	Target      campaign.Target
	ShareURL    string
	CampaignURL string
}

// CreatedShortLink is a stored short link with its public URL.
type CreatedShortLink struct {
	ShortLink campaign.ShortLink
	ShortURL  string
}

// Service implements link registration.
type Service struct {
	store        Store
	generateCID  CodeGenerator
	generateCode CodeGenerator
	baseURL      string
	maxAttempts  int
	now          func() time.Time
	logger       *zap.Logger
}

// NewService creates a registry service. baseURL is used for tenants without a public domain.
func NewService(
	store Store,
	generateCID CodeGenerator,
	generateCode CodeGenerator,
	baseURL string,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:        store,
		generateCID:  generateCID,
		generateCode: generateCode,
		baseURL:      baseURL,
		maxAttempts:  DefaultMaxAttempts,
		now:          time.Now,
		logger:       logger,
	}
}

// CreateLink validates the input, assigns a fresh CID and stores the link.
func (s *Service) CreateLink(ctx context.Context, in CreateLinkInput) (*LinkView, error) {
	if err := campaign.Validate(in); err != nil {
		return nil, err
	}

	target, err := s.ownedTarget(ctx, in.TenantID, in.TargetID)
	if err != nil {
		return nil, err
	}

	variant := in.Variant
	if variant == "" {
		variant = campaign.VariantWelcome
	}

	link := &campaign.Link{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		Name:      in.Name,
		TargetID:  target.ID,
		Variant:   variant,
		UTM:       in.UTM.Normalize(),
		Status:    campaign.StatusActive,
		StartDate: in.StartDate,
		CreatedBy: in.CreatedBy,
		CreatedAt: s.now().UTC(),
	}

	if err := s.insertWithUniqueCID(ctx, link); err != nil {
		return nil, err
	}

	s.logger.Info("campaign link created",
		zap.String("tenant_id", link.TenantID),
		zap.String("link_id", link.ID),
		zap.String("cid", link.CID),
	)

	return s.view(*link, *target, s.baseFor(ctx, link.TenantID)), nil
}

func (s *Service) insertWithUniqueCID(ctx context.Context, link *campaign.Link) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		cid := s.generateCID()

		exists, err := s.store.CIDExists(ctx, link.TenantID, cid)
		if err != nil {
			return fmt.Errorf("check cid: %w", err)
		}

		if exists {
			metrics.CIDCollisions.Inc()
			s.logger.Debug("cid collision", zap.String("tenant_id", link.TenantID), zap.Int("attempt", attempt))

			continue
		}

		link.CID = cid

		err = s.store.InsertLink(ctx, link)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, campaign.ErrCIDTaken):
			// Lost a race with a concurrent insert of the same CID.
			metrics.CIDCollisions.Inc()

			continue
		case errors.Is(err, campaign.ErrConflict):
			return fmt.Errorf("link name %q: %w", link.Name, campaign.ErrConflict)
		default:
			return fmt.Errorf("insert link: %w", err)
		}
	}

	return fmt.Errorf("cid after %d attempts: %w", s.maxAttempts, campaign.ErrExhaustedRetry)
}

// ListLinks returns the tenant's links, newest first, optionally restricted to one target.
func (s *Service) ListLinks(ctx context.Context, tenantID, targetID string) ([]LinkView, error) {
	links, err := s.store.ListLinks(ctx, tenantID, targetID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	base := s.baseFor(ctx, tenantID)
	targets := make(map[string]campaign.Target)
	views := make([]LinkView, 0, len(links))

	for _, link := range links {
		target, ok := targets[link.TargetID]
		if !ok {
			t, err := s.store.GetTarget(ctx, link.TargetID)
			if err != nil {
				return nil, fmt.Errorf("target %s: %w", link.TargetID, err)
			}

			target = *t
			targets[link.TargetID] = target
		}

		views = append(views, *s.view(link, target, base))
	}

	return views, nil
}

// GetLink returns a single tenant-owned link.
func (s *Service) GetLink(ctx context.Context, tenantID, linkID string) (*LinkView, error) {
	link, err := s.store.GetLink(ctx, tenantID, linkID)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", linkID, err)
	}

	target, err := s.store.GetTarget(ctx, link.TargetID)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", link.TargetID, err)
	}

	return s.view(*link, *target, s.baseFor(ctx, tenantID)), nil
}

// ArchiveLink marks a link archived. Archived links keep their CID and history.
func (s *Service) ArchiveLink(ctx context.Context, tenantID, linkID string) error {
	if err := s.store.SetLinkStatus(ctx, tenantID, linkID, campaign.StatusArchived); err != nil {
		return fmt.Errorf("archive link %s: %w", linkID, err)
	}

	return nil
}

// UpdateLink applies in to a tenant-owned link. The CID never changes, so shared URLs keep attributing.
func (s *Service) UpdateLink(ctx context.Context, in UpdateLinkInput) (*LinkView, error) {
	if err := campaign.Validate(in); err != nil {
		return nil, err
	}

	link, err := s.store.GetLink(ctx, in.TenantID, in.LinkID)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", in.LinkID, err)
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be blank", campaign.ErrValidation)
		}

		link.Name = name
	}

	if in.TargetID != nil {
		link.TargetID = *in.TargetID
	}

	target, err := s.ownedTarget(ctx, in.TenantID, link.TargetID)
	if err != nil {
		return nil, err
	}

	if in.Variant != nil {
		if !in.Variant.Valid() {
			return nil, fmt.Errorf("%w: unknown landing variant %q", campaign.ErrValidation, *in.Variant)
		}

		link.Variant = *in.Variant
	}

	if in.UTM != nil {
		link.UTM = in.UTM.Normalize()
	}

	if in.StartDate != nil {
		link.StartDate = in.StartDate
	}

	if in.Status != nil {
		if *in.Status != campaign.StatusActive && *in.Status != campaign.StatusArchived {
			return nil, fmt.Errorf("%w: unknown status %q", campaign.ErrValidation, *in.Status)
		}

		link.Status = *in.Status
	}

	err = s.store.UpdateLink(ctx, link)

	switch {
	case err == nil:
	case errors.Is(err, campaign.ErrConflict):
		return nil, fmt.Errorf("link name %q: %w", link.Name, campaign.ErrConflict)
	default:
		return nil, fmt.Errorf("update link %s: %w", link.ID, err)
	}

	s.logger.Info("campaign link updated",
		zap.String("tenant_id", link.TenantID),
		zap.String("link_id", link.ID),
	)

	return s.view(*link, *target, s.baseFor(ctx, link.TenantID)), nil
}

// CreateShortLink issues a globally unique short code for a target and optional link.
func (s *Service) CreateShortLink(ctx context.Context, in ShortLinkInput) (*CreatedShortLink, error) {
	if err := campaign.Validate(in); err != nil {
		return nil, err
	}

	target, err := s.ownedTarget(ctx, in.TenantID, in.TargetID)
	if err != nil {
		return nil, err
	}

	if in.LinkID != "" {
		link, err := s.store.GetLink(ctx, in.TenantID, in.LinkID)
		if err != nil {
			return nil, fmt.Errorf("link %s: %w", in.LinkID, err)
		}

		if link.TargetID != target.ID {
			return nil, fmt.Errorf("%w: link %s does not point at target %s", campaign.ErrValidation, link.ID, target.ID)
		}
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		short := &campaign.ShortLink{
			Code:      s.generateCode(),
			TenantID:  in.TenantID,
			TargetID:  target.ID,
			LinkID:    in.LinkID,
			ExpiresAt: in.ExpiresAt,
			CreatedAt: s.now().UTC(),
		}

		err := s.store.InsertShortLink(ctx, short)
		if errors.Is(err, campaign.ErrConflict) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("insert short link: %w", err)
		}

		return &CreatedShortLink{
			ShortLink: *short,
			ShortURL:  s.baseFor(ctx, in.TenantID) + "/s/" + short.Code,
		}, nil
	}

	return nil, fmt.Errorf("short code after %d attempts: %w", s.maxAttempts, campaign.ErrExhaustedRetry)
}

func (s *Service) ownedTarget(ctx context.Context, tenantID, targetID string) (*campaign.Target, error) {
	target, err := s.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", targetID, err)
	}

	if target.TenantID != tenantID {
		return nil, fmt.Errorf("target %s: %w", targetID, campaign.ErrPermission)
	}

	return target, nil
}

func (s *Service) view(link campaign.Link, target campaign.Target, base string) *LinkView {
	return &LinkView{
		Link:        link,
		Target:      target,
		ShareURL:    campaign.ShareURL(base, target, link.Variant, link.CID),
		CampaignURL: campaign.CampaignURL(base, target, link.Variant, link.CID, link.UTM),
	}
}

func (s *Service) baseFor(ctx context.Context, tenantID string) string {
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, campaign.ErrNotFound) {
			s.logger.Warn("tenant lookup failed, using default base url",
				zap.String("tenant_id", tenantID), zap.Error(err))
		}

		return s.baseURL
	}

	return tenant.PublicBaseURL(s.baseURL)
}
