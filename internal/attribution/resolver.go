// Package attribution computes per-link visits, conversions and conversion rates at query time.
package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/registry"
	"go.uber.org/zap"
)

// DefaultLookback is the reporting range used when the caller gives no lower bound.
const DefaultLookback = 30 * 24 * time.Hour

// Store is the raw data the resolver reads.
type Store interface {
	ListAccess(ctx context.Context, filter campaign.AccessFilter) ([]campaign.AccessLogEntry, error)
	ListConversions(ctx context.Context, filter campaign.ConversionFilter) ([]campaign.Conversion, error)
	ListDailyStats(ctx context.Context, filter campaign.StatFilter) ([]campaign.DailyStat, error)
}

// LinkLister lists a tenant's links with their URLs.
type LinkLister interface {
	ListLinks(ctx context.Context, tenantID, targetID string) ([]registry.LinkView, error)
	GetLink(ctx context.Context, tenantID, linkID string) (*registry.LinkView, error)
}

// LinkStats are the attribution numbers of one link over a range.
type LinkStats struct {
	Visits      int64
	Conversions int64
	CVR         float64
}

// LinkWithStats is a link view enriched with its stats.
type LinkWithStats struct {
	registry.LinkView
	Stats LinkStats
}

// DayStat is one day of a link's pre-aggregated series.
type DayStat struct {
	Date        time.Time
	Visits      int64
	Conversions int64
}

// Resolver implements query-time attribution.
type Resolver struct {
	store  Store
	links  LinkLister
	now    func() time.Time
	logger *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(store Store, links LinkLister, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, links: links, now: time.Now, logger: logger}
}

// Range fills in the default lookback for an open lower bound and "now" for an open upper bound.
func (r *Resolver) Range(w campaign.Window) campaign.Window {
	if w.To.IsZero() {
		w.To = r.now().UTC()
	}

	if w.From.IsZero() {
		w.From = w.To.Add(-DefaultLookback)
	}

	return w
}

// ComputeLinkStats returns visits, conversions and CVR for one link.
func (r *Resolver) ComputeLinkStats(ctx context.Context, link campaign.Link, w campaign.Window) (LinkStats, error) {
	all, err := r.ComputeAll(ctx, []campaign.Link{link}, w)
	if err != nil {
		return LinkStats{}, err
	}

	return all[link.ID], nil
}

// ComputeAll returns stats keyed by link id. Raw rows are read once per target.
func (r *Resolver) ComputeAll(ctx context.Context, links []campaign.Link, w campaign.Window) (map[string]LinkStats, error) {
	byTarget := make(map[string][]campaign.Link)
	for _, link := range links {
		byTarget[link.TargetID] = append(byTarget[link.TargetID], link)
	}

	out := make(map[string]LinkStats, len(links))

	for targetID, targetLinks := range byTarget {
		tenantID := targetLinks[0].TenantID

		access, err := r.store.ListAccess(ctx, campaign.AccessFilter{TenantID: tenantID, TargetID: targetID, Window: w})
		if err != nil {
			return nil, fmt.Errorf("list access for %s: %w", targetID, err)
		}

		convs, err := r.store.ListConversions(ctx, campaign.ConversionFilter{TenantID: tenantID, TargetID: targetID, Window: w})
		if err != nil {
			return nil, fmt.Errorf("list conversions for %s: %w", targetID, err)
		}

		for _, link := range targetLinks {
			out[link.ID] = statsFor(link, access, convs)
		}
	}

	return out, nil
}

func statsFor(link campaign.Link, access []campaign.AccessLogEntry, convs []campaign.Conversion) LinkStats {
	sessions := make(map[string]struct{})

	for _, entry := range access {
		if VisitMatches(link, entry) {
			sessions[entry.SessionID] = struct{}{}
		}
	}

	var conversions int64

	for _, conv := range convs {
		if Matches(link, conv) {
			conversions++
		}
	}

	visits := int64(len(sessions))

	return LinkStats{
		Visits:      visits,
		Conversions: conversions,
		CVR:         ConversionRate(conversions, visits),
	}
}

// ListLinksWithStats lists the tenant's links, optionally for one target, with stats over w.
func (r *Resolver) ListLinksWithStats(ctx context.Context, tenantID, targetID string, w campaign.Window) ([]LinkWithStats, error) {
	views, err := r.links.ListLinks(ctx, tenantID, targetID)
	if err != nil {
		return nil, err
	}

	links := make([]campaign.Link, len(views))
	for i, v := range views {
		links[i] = v.Link
	}

	stats, err := r.ComputeAll(ctx, links, r.Range(w))
	if err != nil {
		return nil, err
	}

	out := make([]LinkWithStats, len(views))
	for i, v := range views {
		out[i] = LinkWithStats{LinkView: v, Stats: stats[v.Link.ID]}
	}

	return out, nil
}

// LinkReport is one link with stats over a range and its daily series.
type LinkReport struct {
	LinkWithStats
	Range  campaign.Window
	Series []DayStat
}

// Report returns a tenant-owned link with its stats and daily series.
func (r *Resolver) Report(ctx context.Context, tenantID, linkID string, w campaign.Window) (*LinkReport, error) {
	view, err := r.links.GetLink(ctx, tenantID, linkID)
	if err != nil {
		return nil, err
	}

	w = r.Range(w)

	stats, err := r.ComputeLinkStats(ctx, view.Link, w)
	if err != nil {
		return nil, err
	}

	series, err := r.DailySeries(ctx, view.Link, w)
	if err != nil {
		return nil, err
	}

	return &LinkReport{
		LinkWithStats: LinkWithStats{LinkView: *view, Stats: stats},
		Range:         w,
		Series:        series,
	}, nil
}

// DailySeries returns the link's aggregated rows for each UTC day in w, zero-filled.
func (r *Resolver) DailySeries(ctx context.Context, link campaign.Link, w campaign.Window) ([]DayStat, error) {
	w = r.Range(w)
	first := campaign.DayBucket(w.From)

	rows, err := r.store.ListDailyStats(ctx, campaign.StatFilter{
		EntityID: link.TargetID,
		LinkID:   link.ID,
		Window:   campaign.Window{From: first, To: w.To},
	})
	if err != nil {
		return nil, fmt.Errorf("list daily stats: %w", err)
	}

	byDay := make(map[time.Time]campaign.DailyStat, len(rows))
	for _, row := range rows {
		byDay[campaign.DayBucket(row.BucketDate)] = row
	}

	var series []DayStat

	for day := first; day.Before(w.To); day = day.AddDate(0, 0, 1) {
		row := byDay[day]
		series = append(series, DayStat{Date: day, Visits: row.Visits, Conversions: row.Conversions})
	}

	return series, nil
}
