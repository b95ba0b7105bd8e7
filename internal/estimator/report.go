package estimator

import (
	"cmp"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/metrics"
	"go.uber.org/zap"
)

// visitMargin widens the visit lookup around the conversions being estimated.
const visitMargin = 24 * time.Hour

// Store is the raw data the report reads.
type Store interface {
	ListConversions(ctx context.Context, filter campaign.ConversionFilter) ([]campaign.Conversion, error)
	ListAccess(ctx context.Context, filter campaign.AccessFilter) ([]campaign.AccessLogEntry, error)
}

// ReportFilter narrows the conversions considered. An empty TenantID covers every tenant.
type ReportFilter struct {
	TenantID string
	Window   campaign.Window
}

// Count is one value of a distribution.
type Count struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Summary is the distribution of a set of estimates.
type Summary struct {
	Total       int     `json:"total"`
	Sources     []Count `json:"sources"`
	Mediums     []Count `json:"mediums"`
	Confidences []Count `json:"confidences"`
	Reasons     []Count `json:"reasons"`
}

// Report is every estimate produced by a run and its summary.
type Report struct {
	Estimates []Estimate
	Summary   Summary
}

// Reporter runs the estimator over stored conversions.
type Reporter struct {
	store     Store
	estimator *Estimator
	logger    *zap.Logger
}

// NewReporter creates a reporter.
func NewReporter(store Store, estimator *Estimator, logger *zap.Logger) *Reporter {
	return &Reporter{store: store, estimator: estimator, logger: logger}
}

// Report estimates every eligible conversion matched by f. It only reads.
func (r *Reporter) Report(ctx context.Context, f ReportFilter) (*Report, error) {
	convs, err := r.store.ListConversions(ctx, campaign.ConversionFilter{TenantID: f.TenantID, Window: f.Window})
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}

	byTarget := make(map[string][]campaign.Conversion)
	for _, conv := range convs {
		if Eligible(conv) {
			byTarget[conv.TargetID] = append(byTarget[conv.TargetID], conv)
		}
	}

	targets := make([]string, 0, len(byTarget))
	for id := range byTarget {
		targets = append(targets, id)
	}

	slices.Sort(targets)

	report := &Report{}

	for _, targetID := range targets {
		pending := byTarget[targetID]

		visits, err := r.store.ListAccess(ctx, campaign.AccessFilter{
			TenantID: f.TenantID,
			TargetID: targetID,
			Window:   around(pending),
		})
		if err != nil {
			return nil, fmt.Errorf("list access for %s: %w", targetID, err)
		}

		for _, conv := range pending {
			est := r.estimator.Estimate(conv, visits)
			metrics.Estimates.WithLabelValues(string(est.Confidence)).Inc()
			report.Estimates = append(report.Estimates, est)
		}
	}

	report.Summary = Summarize(report.Estimates)

	r.logger.Info("source estimation finished",
		zap.String("tenant_id", f.TenantID),
		zap.Int("conversions", len(convs)),
		zap.Int("estimated", report.Summary.Total),
	)

	return report, nil
}

func around(convs []campaign.Conversion) campaign.Window {
	first, last := convs[0].CreatedAt, convs[0].CreatedAt

	for _, c := range convs[1:] {
		if c.CreatedAt.Before(first) {
			first = c.CreatedAt
		}

		if c.CreatedAt.After(last) {
			last = c.CreatedAt
		}
	}

	return campaign.Window{From: first.Add(-visitMargin), To: last.Add(visitMargin)}
}

// Summarize counts estimates by source, medium, confidence and reason. Unknown values count as "unknown".
func Summarize(estimates []Estimate) Summary {
	sources := make(map[string]int)
	mediums := make(map[string]int)
	confidences := make(map[string]int)
	reasons := make(map[string]int)

	for _, est := range estimates {
		sources[orUnknown(est.Source)]++
		mediums[orUnknown(est.Medium)]++
		confidences[string(est.Confidence)]++
		reasons[est.Reason]++
	}

	return Summary{
		Total:       len(estimates),
		Sources:     ranked(sources),
		Mediums:     ranked(mediums),
		Confidences: ranked(confidences),
		Reasons:     ranked(reasons),
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}

	return s
}

// ranked orders counts descending, ties by value.
func ranked(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for v, n := range m {
		out = append(out, Count{Value: v, Count: n})
	}

	slices.SortFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}

		return cmp.Compare(a.Value, b.Value)
	})

	return out
}

// CSVHeader is the header row written by WriteCSV.
var CSVHeader = []string{
	"entry_id", "target_id", "created_at", "estimated_source", "estimated_medium", "reason", "confidence",
}

// WriteCSV writes estimates as CSV with a header row.
func WriteCSV(w io.Writer, estimates []Estimate) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	for _, est := range estimates {
		if err := cw.Write([]string{
			est.EntryID,
			est.TargetID,
			est.CreatedAt.UTC().Format(time.RFC3339),
			est.Source,
			est.Medium,
			est.Reason,
			string(est.Confidence),
		}); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}
