package campaign

import (
	"encoding/json"
	"time"
)

// TargetKind distinguishes the modern entity reference from the legacy webinar reference.
type TargetKind string

const (
	TargetEntity  TargetKind = "entity"
	TargetWebinar TargetKind = "webinar"
)

// Variant selects which landing page a campaign link opens.
type Variant string

const (
	VariantWelcome  Variant = "welcome"
	VariantSurvey   Variant = "survey"
	VariantRegister Variant = "register"
)

// Valid reports whether v is one of the known landing variants.
func (v Variant) Valid() bool {
	switch v {
	case VariantWelcome, VariantSurvey, VariantRegister:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a campaign link. Links are archived, never deleted.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// AccessSource records which surface produced an access log row.
type AccessSource string

const (
	SourceRedirect AccessSource = "redirect"
	SourceLanding  AccessSource = "landing"
)

// Tenant is an organization owning targets and links.
type Tenant struct {
	ID              string
	CanonicalDomain string
	SubdomainDomain string
}

// PublicBaseURL returns the tenant's public origin, falling back to the given default.
func (t Tenant) PublicBaseURL(fallback string) string {
	switch {
	case t.CanonicalDomain != "":
		return "https://" + t.CanonicalDomain
	case t.SubdomainDomain != "":
		return "https://" + t.SubdomainDomain
	default:
		return fallback
	}
}

// Target is the event or legacy webinar a link points at.
type Target struct {
	ID       string
	TenantID string
	Kind     TargetKind
	Slug     string
}

// Link is a campaign link. CID is empty for links created before CIDs existed.
type Link struct {
	ID        string
	TenantID  string
	Name      string
	TargetID  string
	Variant   Variant
	CID       string
	UTM       UTM
	Status    Status
	StartDate *time.Time
	CreatedBy string
	CreatedAt time.Time
}

// ShortLink maps a globally unique code to a target and optionally a campaign link.
type ShortLink struct {
	Code      string
	TenantID  string
	TargetID  string
	LinkID    string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Expired reports whether the short link is past its expiry at now.
func (s *ShortLink) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// AccessLogEntry is one append-only visit record.
type AccessLogEntry struct {
	ID         string
	TenantID   string
	TargetID   string
	SessionID  string
	LinkID     string
	CID        string
	UTM        UTM
	Referrer   string
	UserAgent  string
	ClientIP   string
	Source     AccessSource
	AccessedAt time.Time
}

// Contact identifies the person behind a conversion.
type Contact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Conversion is one append-only registration record.
type Conversion struct {
	ID        string
	TenantID  string
	TargetID  string
	LinkID    string
	SessionID string
	Contact   Contact
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Attribution decodes the attribution data embedded in the conversion payload.
func (c *Conversion) Attribution() Attribution {
	return DecodeAttribution(c.Payload)
}

// DailyStat is one pre-aggregated row. LinkID is empty for the entity-level row.
type DailyStat struct {
	EntityID         string
	LinkID           string
	BucketDate       time.Time
	Visits           int64
	Conversions      int64
	FormResponses    int64
	Participations   int64
	Clicks           int64
	LastAggregatedAt time.Time
}

// SameCounts reports whether both rows carry identical metric values.
func (d DailyStat) SameCounts(o DailyStat) bool {
	return d.Visits == o.Visits &&
		d.Conversions == o.Conversions &&
		d.FormResponses == o.FormResponses &&
		d.Participations == o.Participations &&
		d.Clicks == o.Clicks
}
