// Package analytics carries click gateway visits over the message bus into the access log.
package analytics

import (
	"time"

	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/recorder"
)

// TopicAccessLogged carries one event per visit recorded by the click gateway.
const TopicAccessLogged = "campaign.access_logged"

// AccessLoggedEvent represents a redirect served by the click gateway.
type AccessLoggedEvent struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	TargetID    string    `json:"targetId"`
	SessionID   string    `json:"sessionId"`
	LinkID      string    `json:"linkId,omitempty"`
	CID         string    `json:"cid,omitempty"`
	UTMSource   string    `json:"utmSource,omitempty"`
	UTMMedium   string    `json:"utmMedium,omitempty"`
	UTMCampaign string    `json:"utmCampaign,omitempty"`
	UTMTerm     string    `json:"utmTerm,omitempty"`
	UTMContent  string    `json:"utmContent,omitempty"`
	Referrer    string    `json:"referrer,omitempty"`
	UserAgent   string    `json:"userAgent,omitempty"`
	ClientIP    string    `json:"clientIp,omitempty"`
	ShortCode   string    `json:"shortCode,omitempty"`
	AccessedAt  time.Time `json:"accessedAt"`
}

// UTM returns the event's UTM parameters.
func (e *AccessLoggedEvent) UTM() campaign.UTM {
	return campaign.UTM{
		Source:   e.UTMSource,
		Medium:   e.UTMMedium,
		Campaign: e.UTMCampaign,
		Term:     e.UTMTerm,
		Content:  e.UTMContent,
	}
}

// SetUTM copies the UTM parameters onto the event.
func (e *AccessLoggedEvent) SetUTM(utm campaign.UTM) {
	e.UTMSource = utm.Source
	e.UTMMedium = utm.Medium
	e.UTMCampaign = utm.Campaign
	e.UTMTerm = utm.Term
	e.UTMContent = utm.Content
}

func (e *AccessLoggedEvent) visitInput() recorder.VisitInput {
	return recorder.VisitInput{
		ID:        e.ID,
		TenantID:  e.TenantID,
		TargetID:  e.TargetID,
		SessionID: e.SessionID,
		LinkID:    e.LinkID,
		CID:       e.CID,
		UTM:       e.UTM(),
		Referrer:  e.Referrer,
		UserAgent: e.UserAgent,
		ClientIP:  e.ClientIP,
		Source:    campaign.SourceRedirect,
		At:        e.AccessedAt,
	}
}
