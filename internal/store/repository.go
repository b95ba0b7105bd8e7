package store

import (
	"context"
	"time"

	"github.com/serroba/campaign-attribution/internal/campaign"
)

// Repository is the full persistence surface shared by the Postgres and in-memory stores.
type Repository interface {
	GetTenant(ctx context.Context, id string) (*campaign.Tenant, error)
	GetTarget(ctx context.Context, id string) (*campaign.Target, error)
	ListTargets(ctx context.Context, tenantID string) ([]campaign.Target, error)

	CIDExists(ctx context.Context, tenantID, cid string) (bool, error)
	InsertLink(ctx context.Context, link *campaign.Link) error
	GetLink(ctx context.Context, tenantID, id string) (*campaign.Link, error)
	ListLinks(ctx context.Context, tenantID, targetID string) ([]campaign.Link, error)
	SetLinkStatus(ctx context.Context, tenantID, id string, status campaign.Status) error
	UpdateLink(ctx context.Context, link *campaign.Link) error

	InsertShortLink(ctx context.Context, link *campaign.ShortLink) error
	GetShortLink(ctx context.Context, code string) (*campaign.ShortLink, error)

	AppendAccess(ctx context.Context, entry *campaign.AccessLogEntry) error
	ListAccess(ctx context.Context, filter campaign.AccessFilter) ([]campaign.AccessLogEntry, error)
	AppendConversion(ctx context.Context, conv *campaign.Conversion) error
	ListConversions(ctx context.Context, filter campaign.ConversionFilter) ([]campaign.Conversion, error)

	CountVisits(ctx context.Context, targetID string, w campaign.Window) (int64, error)
	CountConversions(ctx context.Context, targetID string, w campaign.Window) (int64, error)
	CountFormResponses(ctx context.Context, targetID string, w campaign.Window) (int64, error)
	CountParticipations(ctx context.Context, targetID string, w campaign.Window) (int64, error)
	CountClicks(ctx context.Context, targetID string, w campaign.Window) (int64, error)

	UpsertDailyStat(ctx context.Context, stat campaign.DailyStat) (bool, error)
	ListDailyStats(ctx context.Context, filter campaign.StatFilter) ([]campaign.DailyStat, error)
}

// LinkSource is the read path the click gateway resolves short codes through.
type LinkSource interface {
	GetShortLink(ctx context.Context, code string) (*campaign.ShortLink, error)
	GetTarget(ctx context.Context, id string) (*campaign.Target, error)
	GetLink(ctx context.Context, tenantID, id string) (*campaign.Link, error)
}

func optionalTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}

	return t
}
