package handlers

import (
	"net/url"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/campaign-attribution/internal/aggregator"
	"github.com/serroba/campaign-attribution/internal/attribution"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/registry"
)

// LinkBody is a campaign link as returned by the API.
type LinkBody struct {
	ID             string     `doc:"Link ID"                                  json:"id"`
	Name           string     `doc:"Unique name within the target"            json:"name"`
	TargetID       string     `doc:"Event or webinar the link points at"      json:"target_id"`
	LandingVariant string     `doc:"Landing page variant"                     example:"register"                       json:"landing_variant"`
	CID            string     `doc:"Tenant-unique campaign id, empty on legacy links" example:"x7Kq9P2a"                json:"cid"`
	Status         string     `doc:"active or archived"                       json:"status"`
	StartDate      *time.Time `doc:"Campaign start"                           json:"start_date,omitempty"`
	CreatedAt      time.Time  `doc:"Creation time"                            json:"created_at"`
	ShareURL       string     `doc:"Landing URL carrying only the cid"        example:"https://acme.events.io/event/summit/register?cid=x7Kq9P2a" json:"share_url"`
	CampaignURL    string     `doc:"Landing URL carrying the cid and UTM parameters" json:"campaign_url"`
	campaign.UTM
}

// LinkStatsBody is a link with its attribution numbers.
type LinkStatsBody struct {
	LinkBody
	Visits      int64   `doc:"Distinct sessions that visited through the link" json:"visits"`
	Conversions int64   `doc:"Conversions attributed to the link"              json:"conversions"`
	CVR         float64 `doc:"Conversion rate in percent, two decimals"        example:"12.5" json:"cvr"`
}

func newLinkBody(v registry.LinkView) LinkBody {
	return LinkBody{
		ID:             v.Link.ID,
		Name:           v.Link.Name,
		TargetID:       v.Link.TargetID,
		LandingVariant: string(v.Link.Variant),
		CID:            v.Link.CID,
		Status:         string(v.Link.Status),
		StartDate:      v.Link.StartDate,
		CreatedAt:      v.Link.CreatedAt,
		ShareURL:       v.ShareURL,
		CampaignURL:    v.CampaignURL,
		UTM:            v.Link.UTM,
	}
}

func newLinkStatsBody(l attribution.LinkWithStats) LinkStatsBody {
	return LinkStatsBody{
		LinkBody:    newLinkBody(l.LinkView),
		Visits:      l.Stats.Visits,
		Conversions: l.Stats.Conversions,
		CVR:         l.Stats.CVR,
	}
}

// CreateLinkRequest creates a campaign link for a target.
type CreateLinkRequest struct {
	TargetID string `doc:"Event or webinar ID" path:"targetId"`
	Body     struct {
		Name           string     `doc:"Link name, unique per target" json:"name"                      maxLength:"200" minLength:"1"`
		LandingVariant string     `doc:"Landing page variant"         enum:"welcome,register,survey" json:"landing_variant,omitempty"`
		StartDate      *time.Time `doc:"Campaign start"               json:"start_date,omitempty"`
		campaign.UTM
	}
}

// UpdateLinkRequest replaces a link's name and UTM set. Omitted target, variant, status and
// start date keep their stored values.
type UpdateLinkRequest struct {
	LinkID string `path:"linkId"`
	Body   struct {
		Name           string     `doc:"Link name, unique per target"      json:"name"                      maxLength:"200" minLength:"1"`
		TargetID       string     `doc:"Move the link to another target"  json:"target_id,omitempty"`
		LandingVariant string     `doc:"Landing page variant"              enum:"welcome,register,survey" json:"landing_variant,omitempty"`
		Status         string     `doc:"active or archived"                enum:"active,archived"         json:"status,omitempty"`
		StartDate      *time.Time `doc:"Campaign start"                    json:"start_date,omitempty"`
		campaign.UTM
	}
}

// LinkResponse is a single link.
type LinkResponse struct {
	Body LinkBody
}

// ListLinksRequest lists the caller's links with stats over a range.
type ListLinksRequest struct {
	TargetID string `doc:"Only links of this target"                     query:"target_id"`
	From     string `doc:"Range start, RFC 3339 or YYYY-MM-DD"           query:"from"`
	To       string `doc:"Range end, RFC 3339 or YYYY-MM-DD (inclusive)" query:"to"`
}

// ListLinksResponse lists links with stats.
type ListLinksResponse struct {
	Body struct {
		Links []LinkStatsBody `json:"links"`
	}
}

// LinkStatsRequest selects one link and a range.
type LinkStatsRequest struct {
	LinkID string `path:"linkId"`
	From   string `doc:"Range start, RFC 3339 or YYYY-MM-DD"           query:"from"`
	To     string `doc:"Range end, RFC 3339 or YYYY-MM-DD (inclusive)" query:"to"`
}

// DayBody is one day of a link's series.
type DayBody struct {
	Date        string `example:"2025-03-01" json:"date"`
	Visits      int64  `json:"visits"`
	Conversions int64  `json:"conversions"`
}

// LinkStatsResponse is a link's stats and its daily series.
type LinkStatsResponse struct {
	Body struct {
		Link   LinkStatsBody `json:"link"`
		From   time.Time     `json:"from"`
		To     time.Time     `json:"to"`
		Series []DayBody     `json:"series"`
	}
}

// ArchiveLinkRequest archives a link.
type ArchiveLinkRequest struct {
	LinkID string `path:"linkId"`
}

// CreateShortLinkRequest issues a short code for a target, optionally bound to a link.
type CreateShortLinkRequest struct {
	TargetID string `doc:"Event or webinar ID" path:"targetId"`
	Body     struct {
		LinkID    string     `doc:"Campaign link whose cid and UTM the redirect applies" json:"link_id,omitempty"`
		ExpiresAt *time.Time `doc:"Redirects stop working at this time"                 json:"expires_at,omitempty"`
	}
}

// CreateShortLinkResponse is the issued short link.
type CreateShortLinkResponse struct {
	Body struct {
		Code      string     `example:"Ab3dE9xZ"                       json:"code"`
		ShortURL  string     `example:"https://acme.events.io/s/Ab3dE9xZ" json:"short_url"`
		TargetID  string     `json:"target_id"`
		LinkID    string     `json:"link_id,omitempty"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}
}

// RedirectRequest is a short link visit. Query holds every incoming query parameter.
type RedirectRequest struct {
	Code      string `doc:"Short code" path:"code"`
	SessionID string `cookie:"ef_session_id"`
	Query     url.Values
}

// Resolve captures the raw query so it can be forwarded to the landing page.
func (r *RedirectRequest) Resolve(ctx huma.Context) []error {
	u := ctx.URL()
	r.Query = u.Query()

	return nil
}

// RedirectResponse is always a temporary redirect.
type RedirectResponse struct {
	Status    int
	Location  string `header:"Location"`
	SetCookie string `header:"Set-Cookie"`
}

// RecordVisitRequest is a landing page visit reported by the page itself.
type RecordVisitRequest struct {
	TargetID      string `doc:"Event or webinar ID" path:"targetId"`
	SessionCookie string `cookie:"ef_session_id"`
	Body          struct {
		SessionID string `doc:"Visitor session; defaults to the ef_session_id cookie" json:"session_id,omitempty" maxLength:"128"`
		LinkID    string `doc:"Campaign link, when known"                   json:"link_id,omitempty"`
		CID       string `doc:"cid query parameter of the landing URL"      json:"cid,omitempty"       maxLength:"64"`
		Referrer  string `doc:"document.referrer; defaults to the Referer header" json:"referrer,omitempty"`
		campaign.UTM
	}
}

// RecordVisitResponse acknowledges a recorded visit.
type RecordVisitResponse struct {
	Body struct {
		ID string `json:"id"`
	}
}

// RecordConversionRequest is a registration submitted for a target.
type RecordConversionRequest struct {
	TargetID string `doc:"Event or webinar ID" path:"targetId"`
	Body     struct {
		LinkID    string         `doc:"Campaign link the registration came through" json:"link_id,omitempty"`
		SessionID string         `doc:"Visitor session"                             json:"session_id,omitempty"`
		Email     string         `doc:"Registrant email"                            format:"email"             json:"email"`
		Name      string         `doc:"Registrant name"                             json:"name,omitempty"`
		Phone     string         `doc:"Registrant phone"                            json:"phone,omitempty"`
		CID       string         `doc:"cid captured on the landing page"            json:"cid,omitempty"`
		Referrer  string         `doc:"Referrer captured on the landing page"       json:"referrer,omitempty"`
		Payload   map[string]any `doc:"Form answers and other entry data"           json:"payload,omitempty"`
		campaign.UTM
	}
}

// RecordConversionResponse is the stored conversion.
type RecordConversionResponse struct {
	Body struct {
		ID        string    `json:"id"`
		TargetID  string    `json:"target_id"`
		LinkID    string    `json:"link_id,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}
}

// AggregateRequest triggers an aggregation run. Without from it is incremental.
type AggregateRequest struct {
	From     string `doc:"Backfill start, RFC 3339 or YYYY-MM-DD"           query:"from"`
	To       string `doc:"Backfill end, RFC 3339 or YYYY-MM-DD (inclusive)" query:"to"`
	EntityID string `doc:"Only this event"                                  query:"entity_id"`
}

// AggregateResponse is the run summary.
type AggregateResponse struct {
	Body aggregator.Summary
}

// EstimatesRequest runs the source estimator.
type EstimatesRequest struct {
	TenantID   string `doc:"Only conversions of this tenant"         query:"tenant_id"`
	From       string `doc:"Conversions created at or after"         query:"from"`
	To         string `doc:"Conversions created before (inclusive date)" query:"to"`
	ReportOnly bool   `doc:"Return the distribution instead of the CSV" query:"report_only"`
}

// EstimatesResponse carries either the CSV bytes or, with report_only, the JSON summary.
type EstimatesResponse struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               any
}
