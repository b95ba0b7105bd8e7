// Package recorder appends raw visits and conversions after checking tenant ownership.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"go.uber.org/zap"
)

// Store is the persistence the recorder depends on.
type Store interface {
	GetTarget(ctx context.Context, id string) (*campaign.Target, error)
	GetLink(ctx context.Context, tenantID, id string) (*campaign.Link, error)
	AppendAccess(ctx context.Context, entry *campaign.AccessLogEntry) error
	AppendConversion(ctx context.Context, conv *campaign.Conversion) error
}

// VisitInput is one page visit. TenantID may be empty, in which case the target's tenant is used.
type VisitInput struct {
	ID        string
	TenantID  string
	TargetID  string `validate:"required"`
	SessionID string `validate:"required,max=128"`
	LinkID    string
	CID       string `validate:"max=64"`
	UTM       campaign.UTM
	Referrer  string
	UserAgent string
	ClientIP  string
	Source    campaign.AccessSource `validate:"omitempty,oneof=redirect landing"`
	At        time.Time
}

// ConversionInput is one registration.
type ConversionInput struct {
	TenantID    string `validate:"required"`
	TargetID    string `validate:"required"`
	LinkID      string
	SessionID   string
	Contact     campaign.Contact
	Payload     json.RawMessage
	Attribution *campaign.Attribution
}

type contactRules struct {
	Email string `validate:"required,email"`
	Name  string `validate:"max=200"`
	Phone string `validate:"max=40"`
}

// Recorder implements visit and conversion recording.
type Recorder struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// New creates a recorder.
func New(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, now: time.Now, logger: logger}
}

// RecordVisit appends an access log row. Duplicate visits are kept; deduplication happens at read time.
func (r *Recorder) RecordVisit(ctx context.Context, in VisitInput) (*campaign.AccessLogEntry, error) {
	if err := campaign.Validate(in); err != nil {
		return nil, err
	}

	target, err := r.store.GetTarget(ctx, in.TargetID)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", in.TargetID, err)
	}

	if in.TenantID != "" && in.TenantID != target.TenantID {
		return nil, fmt.Errorf("target %s: %w", in.TargetID, campaign.ErrPermission)
	}

	linkID := in.LinkID
	if linkID != "" {
		if err := r.checkLink(ctx, target, linkID); err != nil {
			if in.Source == campaign.SourceLanding {
				return nil, err
			}

			r.logger.Warn("dropping unknown link from visit",
				zap.String("target_id", target.ID), zap.String("link_id", linkID), zap.Error(err))

			linkID = ""
		}
	}

	entry := &campaign.AccessLogEntry{
		ID:         in.ID,
		TenantID:   target.TenantID,
		TargetID:   target.ID,
		SessionID:  in.SessionID,
		LinkID:     linkID,
		CID:        in.CID,
		UTM:        in.UTM.Normalize(),
		Referrer:   in.Referrer,
		UserAgent:  in.UserAgent,
		ClientIP:   in.ClientIP,
		Source:     in.Source,
		AccessedAt: in.At,
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if entry.Source == "" {
		entry.Source = campaign.SourceLanding
	}

	if entry.AccessedAt.IsZero() {
		entry.AccessedAt = r.now()
	}

	entry.AccessedAt = entry.AccessedAt.UTC()

	if err := r.store.AppendAccess(ctx, entry); err != nil {
		return nil, fmt.Errorf("append access: %w", err)
	}

	return entry, nil
}

// RecordConversion appends a conversion row for a tenant-owned target.
func (r *Recorder) RecordConversion(ctx context.Context, in ConversionInput) (*campaign.Conversion, error) {
	if err := campaign.Validate(in); err != nil {
		return nil, err
	}

	if err := campaign.Validate(contactRules(in.Contact)); err != nil {
		return nil, err
	}

	target, err := r.store.GetTarget(ctx, in.TargetID)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", in.TargetID, err)
	}

	if target.TenantID != in.TenantID {
		return nil, fmt.Errorf("target %s: %w", in.TargetID, campaign.ErrPermission)
	}

	if in.LinkID != "" {
		if err := r.checkLink(ctx, target, in.LinkID); err != nil {
			return nil, err
		}
	}

	payload := in.Payload
	if in.Attribution != nil {
		payload, err = campaign.EncodeAttribution(in.Payload, *in.Attribution)
		if err != nil {
			return nil, fmt.Errorf("%w: payload must be a JSON object: %w", campaign.ErrValidation, err)
		}
	}

	conv := &campaign.Conversion{
		ID:        uuid.NewString(),
		TenantID:  target.TenantID,
		TargetID:  target.ID,
		LinkID:    in.LinkID,
		SessionID: in.SessionID,
		Contact:   in.Contact,
		Payload:   payload,
		CreatedAt: r.now().UTC(),
	}

	if err := r.store.AppendConversion(ctx, conv); err != nil {
		return nil, fmt.Errorf("append conversion: %w", err)
	}

	r.logger.Info("conversion recorded",
		zap.String("tenant_id", conv.TenantID),
		zap.String("target_id", conv.TargetID),
		zap.String("link_id", conv.LinkID),
	)

	return conv, nil
}

func (r *Recorder) checkLink(ctx context.Context, target *campaign.Target, linkID string) error {
	link, err := r.store.GetLink(ctx, target.TenantID, linkID)
	if errors.Is(err, campaign.ErrNotFound) {
		return fmt.Errorf("link %s: %w", linkID, campaign.ErrPermission)
	}

	if err != nil {
		return fmt.Errorf("link %s: %w", linkID, err)
	}

	if link.TargetID != target.ID {
		return fmt.Errorf("link %s does not point at target %s: %w", linkID, target.ID, campaign.ErrPermission)
	}

	return nil
}
