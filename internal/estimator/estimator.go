// Package estimator guesses the traffic source of conversions that carry no attribution,
// using the visits recorded around them. Estimates are advisory and never written back.
package estimator

import (
	"time"

	"github.com/serroba/campaign-attribution/internal/campaign"
)

// CorrelationWindow is how far apart a visit and a conversion may be to be correlated by time.
const CorrelationWindow = 5 * time.Minute

// Reasons recorded on estimates.
const (
	ReasonVisitUTM         = "visit_log_utm"
	ReasonVisitReferrer    = "visit_log_referrer"
	ReasonVisitUserAgent   = "visit_log_user_agent"
	ReasonVisitDirect      = "visit_log_direct"
	ReasonTimeReferrer     = "time_correlation_referrer"
	ReasonTimeUserAgent    = "time_correlation_user_agent"
	ReasonTimeDirect       = "time_correlation_direct"
	ReasonEntryReferrer    = "entry_referrer"
	ReasonInsufficientData = "insufficient_data"
)

// Estimate is the guessed source of one conversion. Empty Source and Medium mean unknown.
type Estimate struct {
	EntryID    string
	TargetID   string
	CreatedAt  time.Time
	Source     string
	Medium     string
	Confidence Confidence
	Reason     string
}

// Estimator applies the rule tables to conversions.
type Estimator struct {
	rules *RuleSet
}

// New creates an estimator. A nil rule set uses DefaultRules.
func New(rules *RuleSet) *Estimator {
	if rules == nil {
		rules = DefaultRules()
	}

	return &Estimator{rules: rules}
}

// Eligible reports whether conv needs an estimate: no direct link and no explicit UTM source.
func Eligible(conv campaign.Conversion) bool {
	return conv.LinkID == "" && conv.Attribution().Source == ""
}

// Estimate classifies one conversion given the visits recorded on its target.
// The first step that produces an answer wins:
//
//  1. a visit in the same session carrying a UTM source
//  2. that visit's referrer
//  3. that visit's user agent, or direct traffic when it had no referrer
//  4. steps 2 and 3 on the closest visit on the target within CorrelationWindow, one
//     confidence level lower
//  5. the referrer captured in the conversion payload
func (e *Estimator) Estimate(conv campaign.Conversion, visits []campaign.AccessLogEntry) Estimate {
	est := e.classify(conv, visits)
	est.EntryID = conv.ID
	est.TargetID = conv.TargetID
	est.CreatedAt = conv.CreatedAt

	return est
}

func (e *Estimator) classify(conv campaign.Conversion, visits []campaign.AccessLogEntry) Estimate {
	if visit, ok := sessionVisit(conv, visits); ok {
		if visit.UTM.Source != "" {
			return Estimate{
				Source:     visit.UTM.Source,
				Medium:     visit.UTM.Medium,
				Confidence: ConfidenceHigh,
				Reason:     ReasonVisitUTM,
			}
		}

		if est, ok := e.classifyVisit(visit, sessionReasons, false); ok {
			return est
		}
	}

	if visit, ok := closestVisit(conv, visits); ok {
		if est, ok := e.classifyVisit(visit, timeReasons, true); ok {
			return est
		}
	}

	if r, ok := e.rules.MatchReferrer(conv.Attribution().Referrer); ok {
		return sourceOf(r, ReasonEntryReferrer, r.Confidence)
	}

	return Estimate{Confidence: ConfidenceLow, Reason: ReasonInsufficientData}
}

type visitReasons struct {
	referrer, userAgent, direct string
}

var (
	sessionReasons = visitReasons{ReasonVisitReferrer, ReasonVisitUserAgent, ReasonVisitDirect}
	timeReasons    = visitReasons{ReasonTimeReferrer, ReasonTimeUserAgent, ReasonTimeDirect}
)

// classifyVisit tries the referrer table, then the user agent table, then treats a visit
// without a referrer as direct traffic.
func (e *Estimator) classifyVisit(visit campaign.AccessLogEntry, reasons visitReasons, downgrade bool) (Estimate, bool) {
	level := func(c Confidence) Confidence {
		if downgrade {
			return c.downgrade()
		}

		return c
	}

	if r, ok := e.rules.MatchReferrer(visit.Referrer); ok {
		return sourceOf(r, reasons.referrer, level(r.Confidence)), true
	}

	if r, ok := e.rules.MatchUserAgent(visit.UserAgent); ok {
		return sourceOf(r, reasons.userAgent, level(r.Confidence)), true
	}

	if visit.Referrer == "" {
		return Estimate{Source: "direct", Medium: "none", Confidence: level(ConfidenceMedium), Reason: reasons.direct}, true
	}

	return Estimate{}, false
}

// sessionVisit returns the earliest visit of the conversion's session on its target.
func sessionVisit(conv campaign.Conversion, visits []campaign.AccessLogEntry) (campaign.AccessLogEntry, bool) {
	if conv.SessionID == "" {
		return campaign.AccessLogEntry{}, false
	}

	var (
		found campaign.AccessLogEntry
		ok    bool
	)

	for _, v := range visits {
		if v.SessionID != conv.SessionID || v.TargetID != conv.TargetID {
			continue
		}

		if !ok || v.AccessedAt.Before(found.AccessedAt) {
			found, ok = v, true
		}
	}

	return found, ok
}

func closestVisit(conv campaign.Conversion, visits []campaign.AccessLogEntry) (campaign.AccessLogEntry, bool) {
	var (
		found campaign.AccessLogEntry
		best  time.Duration
		ok    bool
	)

	for _, v := range visits {
		if v.TargetID != conv.TargetID {
			continue
		}

		d := v.AccessedAt.Sub(conv.CreatedAt).Abs()
		if d > CorrelationWindow {
			continue
		}

		if !ok || d < best {
			found, best, ok = v, d, true
		}
	}

	return found, ok
}
