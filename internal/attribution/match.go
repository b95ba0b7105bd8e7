package attribution

import (
	"math"

	"github.com/serroba/campaign-attribution/internal/campaign"
)

// Matches reports whether conv is attributed to link.
//
// A link with a CID claims conversions on its target whose embedded attribution carries that
// CID, unless the conversion's direct link reference names another link. A link without a CID
// claims only conversions whose direct link reference is the link itself.
func Matches(link campaign.Link, conv campaign.Conversion) bool {
	if conv.TenantID != link.TenantID {
		return false
	}

	if link.CID == "" {
		return conv.LinkID == link.ID
	}

	if conv.TargetID != link.TargetID {
		return false
	}

	if conv.LinkID != "" && conv.LinkID != link.ID {
		return false
	}

	return conv.Attribution().CID == link.CID
}

// VisitMatches reports whether an access row counts as a visit of link.
func VisitMatches(link campaign.Link, entry campaign.AccessLogEntry) bool {
	if entry.TenantID != link.TenantID || entry.TargetID != link.TargetID {
		return false
	}

	if entry.LinkID == link.ID {
		return true
	}

	return link.CID != "" && entry.CID == link.CID
}

// ConversionRate returns conversions per 100 visits rounded to two decimals, 0 without visits.
func ConversionRate(conversions, visits int64) float64 {
	if visits == 0 {
		return 0
	}

	return math.Round(float64(conversions)/float64(visits)*100*100) / 100
}
