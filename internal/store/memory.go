package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/serroba/campaign-attribution/internal/campaign"
)

type statKey struct {
	entityID string
	linkID   string
	bucket   time.Time
}

type activity struct {
	targetID string
	at       time.Time
}

// MemoryStore is an in-memory implementation of Repository.
type MemoryStore struct {
	mu             sync.RWMutex
	tenants        map[string]campaign.Tenant
	targets        map[string]campaign.Target
	links          map[string]campaign.Link
	shortLinks     map[string]campaign.ShortLink
	access         []campaign.AccessLogEntry
	accessIDs      map[string]struct{}
	conversions    []campaign.Conversion
	formResponses  []activity
	participations []activity
	stats          map[statKey]campaign.DailyStat
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:    make(map[string]campaign.Tenant),
		targets:    make(map[string]campaign.Target),
		links:      make(map[string]campaign.Link),
		shortLinks: make(map[string]campaign.ShortLink),
		accessIDs:  make(map[string]struct{}),
		stats:      make(map[statKey]campaign.DailyStat),
	}
}

// PutTenant registers a tenant.
func (m *MemoryStore) PutTenant(t campaign.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tenants[t.ID] = t
}

// PutTarget registers a target.
func (m *MemoryStore) PutTarget(t campaign.Target) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.targets[t.ID] = t
}

// RecordFormResponse stores a survey response written by the forms collaborator.
func (m *MemoryStore) RecordFormResponse(targetID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.formResponses = append(m.formResponses, activity{targetID: targetID, at: at})
}

// RecordParticipation stores a participation written by the webinar collaborator.
func (m *MemoryStore) RecordParticipation(targetID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.participations = append(m.participations, activity{targetID: targetID, at: at})
}

func (m *MemoryStore) GetTenant(_ context.Context, id string) (*campaign.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}

	return &t, nil
}

func (m *MemoryStore) GetTarget(_ context.Context, id string) (*campaign.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.targets[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}

	return &t, nil
}

func (m *MemoryStore) ListTargets(_ context.Context, tenantID string) ([]campaign.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]campaign.Target, 0, len(m.targets))

	for _, t := range m.targets {
		if tenantID == "" || t.TenantID == tenantID {
			out = append(out, t)
		}
	}

	slices.SortFunc(out, func(a, b campaign.Target) int { return strings.Compare(a.ID, b.ID) })

	return out, nil
}

func (m *MemoryStore) CIDExists(_ context.Context, tenantID, cid string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.cidTakenLocked(tenantID, cid), nil
}

func (m *MemoryStore) cidTakenLocked(tenantID, cid string) bool {
	for _, l := range m.links {
		if l.TenantID == tenantID && l.CID != "" && l.CID == cid {
			return true
		}
	}

	return false
}

func (m *MemoryStore) InsertLink(_ context.Context, link *campaign.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if link.CID != "" && m.cidTakenLocked(link.TenantID, link.CID) {
		return campaign.ErrCIDTaken
	}

	for _, l := range m.links {
		if l.TenantID == link.TenantID && l.Name == link.Name {
			return campaign.ErrConflict
		}
	}

	m.links[link.ID] = *link

	return nil
}

func (m *MemoryStore) GetLink(_ context.Context, tenantID, id string) (*campaign.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.links[id]
	if !ok || l.TenantID != tenantID {
		return nil, campaign.ErrNotFound
	}

	return &l, nil
}

func (m *MemoryStore) ListLinks(_ context.Context, tenantID, targetID string) ([]campaign.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []campaign.Link

	for _, l := range m.links {
		if l.TenantID != tenantID || (targetID != "" && l.TargetID != targetID) {
			continue
		}

		out = append(out, l)
	}

	slices.SortFunc(out, func(a, b campaign.Link) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return out, nil
}

func (m *MemoryStore) SetLinkStatus(_ context.Context, tenantID, id string, status campaign.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[id]
	if !ok || l.TenantID != tenantID {
		return campaign.ErrNotFound
	}

	l.Status = status
	m.links[id] = l

	return nil
}

// UpdateLink overwrites the mutable fields of a stored link. The CID and creation fields never change.
func (m *MemoryStore) UpdateLink(_ context.Context, link *campaign.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.links[link.ID]
	if !ok || current.TenantID != link.TenantID {
		return campaign.ErrNotFound
	}

	for id, l := range m.links {
		if id != link.ID && l.TenantID == link.TenantID && l.Name == link.Name {
			return campaign.ErrConflict
		}
	}

	current.Name = link.Name
	current.TargetID = link.TargetID
	current.Variant = link.Variant
	current.UTM = link.UTM
	current.Status = link.Status
	current.StartDate = link.StartDate
	m.links[link.ID] = current

	return nil
}

func (m *MemoryStore) InsertShortLink(_ context.Context, link *campaign.ShortLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.shortLinks[link.Code]; ok {
		return campaign.ErrConflict
	}

	m.shortLinks[link.Code] = *link

	return nil
}

func (m *MemoryStore) GetShortLink(_ context.Context, code string) (*campaign.ShortLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.shortLinks[code]
	if !ok {
		return nil, campaign.ErrNotFound
	}

	return &l, nil
}

func (m *MemoryStore) AppendAccess(_ context.Context, entry *campaign.AccessLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Redelivered events carry the same ID.
	if _, ok := m.accessIDs[entry.ID]; ok {
		return nil
	}

	m.accessIDs[entry.ID] = struct{}{}
	m.access = append(m.access, *entry)

	return nil
}

func (m *MemoryStore) ListAccess(_ context.Context, f campaign.AccessFilter) ([]campaign.AccessLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []campaign.AccessLogEntry

	for _, e := range m.access {
		if matchAccess(e, f) {
			out = append(out, e)
		}
	}

	slices.SortStableFunc(out, func(a, b campaign.AccessLogEntry) int { return a.AccessedAt.Compare(b.AccessedAt) })

	return out, nil
}

func matchAccess(e campaign.AccessLogEntry, f campaign.AccessFilter) bool {
	switch {
	case f.TenantID != "" && e.TenantID != f.TenantID:
		return false
	case f.TargetID != "" && e.TargetID != f.TargetID:
		return false
	case f.SessionID != "" && e.SessionID != f.SessionID:
		return false
	case f.Source != "" && e.Source != f.Source:
		return false
	default:
		return f.Window.Contains(e.AccessedAt)
	}
}

func (m *MemoryStore) AppendConversion(_ context.Context, conv *campaign.Conversion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conversions = append(m.conversions, *conv)

	return nil
}

func (m *MemoryStore) ListConversions(_ context.Context, f campaign.ConversionFilter) ([]campaign.Conversion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []campaign.Conversion

	for _, c := range m.conversions {
		if f.TenantID != "" && c.TenantID != f.TenantID {
			continue
		}

		if f.TargetID != "" && c.TargetID != f.TargetID {
			continue
		}

		if f.Window.Contains(c.CreatedAt) {
			out = append(out, c)
		}
	}

	slices.SortStableFunc(out, func(a, b campaign.Conversion) int { return a.CreatedAt.Compare(b.CreatedAt) })

	return out, nil
}

func (m *MemoryStore) CountVisits(_ context.Context, targetID string, w campaign.Window) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make(map[string]struct{})

	for _, e := range m.access {
		if e.TargetID == targetID && w.Contains(e.AccessedAt) {
			sessions[e.SessionID] = struct{}{}
		}
	}

	return int64(len(sessions)), nil
}

func (m *MemoryStore) CountConversions(_ context.Context, targetID string, w campaign.Window) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contacts := make(map[string]struct{})

	for _, c := range m.conversions {
		if c.TargetID != targetID || !w.Contains(c.CreatedAt) {
			continue
		}

		key := strings.ToLower(strings.TrimSpace(c.Contact.Email))
		if key == "" {
			key = "id:" + c.ID
		}

		contacts[key] = struct{}{}
	}

	return int64(len(contacts)), nil
}

func (m *MemoryStore) CountFormResponses(_ context.Context, targetID string, w campaign.Window) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return countActivity(m.formResponses, targetID, w), nil
}

func (m *MemoryStore) CountParticipations(_ context.Context, targetID string, w campaign.Window) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return countActivity(m.participations, targetID, w), nil
}

func countActivity(rows []activity, targetID string, w campaign.Window) int64 {
	var n int64

	for _, r := range rows {
		if r.targetID == targetID && w.Contains(r.at) {
			n++
		}
	}

	return n
}

func (m *MemoryStore) CountClicks(_ context.Context, targetID string, w campaign.Window) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64

	for _, e := range m.access {
		if e.TargetID == targetID && e.Source == campaign.SourceRedirect && w.Contains(e.AccessedAt) {
			n++
		}
	}

	return n, nil
}

// UpsertDailyStat inserts or replaces a row and reports whether anything changed.
// An unchanged row keeps its previous LastAggregatedAt.
func (m *MemoryStore) UpsertDailyStat(_ context.Context, stat campaign.DailyStat) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stat.BucketDate = campaign.DayBucket(stat.BucketDate)
	key := statKey{entityID: stat.EntityID, linkID: stat.LinkID, bucket: stat.BucketDate}

	if existing, ok := m.stats[key]; ok && existing.SameCounts(stat) {
		return false, nil
	}

	m.stats[key] = stat

	return true, nil
}

func (m *MemoryStore) ListDailyStats(_ context.Context, f campaign.StatFilter) ([]campaign.DailyStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []campaign.DailyStat

	for k, s := range m.stats {
		if k.entityID == f.EntityID && k.linkID == f.LinkID && f.Window.Contains(k.bucket) {
			out = append(out, s)
		}
	}

	slices.SortFunc(out, func(a, b campaign.DailyStat) int { return a.BucketDate.Compare(b.BucketDate) })

	return out, nil
}

// Compile-time check.
var _ Repository = (*MemoryStore)(nil)
