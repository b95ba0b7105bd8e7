package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/campaign-attribution/internal/campaign"
)

const uniqueViolation = "23505"

// PostgresStore is a PostgreSQL implementation of Repository.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (p *PostgresStore) GetTenant(ctx context.Context, id string) (*campaign.Tenant, error) {
	query := `
		SELECT id, COALESCE(canonical_domain, ''), COALESCE(subdomain_domain, '')
		FROM tenants
		WHERE id = $1
	`

	var t campaign.Tenant

	err := p.pool.QueryRow(ctx, query, id).Scan(&t.ID, &t.CanonicalDomain, &t.SubdomainDomain)
	if err != nil {
		return nil, notFound(err)
	}

	return &t, nil
}

func (p *PostgresStore) GetTarget(ctx context.Context, id string) (*campaign.Target, error) {
	query := `
		SELECT id, tenant_id, kind, COALESCE(slug, '')
		FROM targets
		WHERE id = $1
	`

	var t campaign.Target

	err := p.pool.QueryRow(ctx, query, id).Scan(&t.ID, &t.TenantID, &t.Kind, &t.Slug)
	if err != nil {
		return nil, notFound(err)
	}

	return &t, nil
}

func (p *PostgresStore) ListTargets(ctx context.Context, tenantID string) ([]campaign.Target, error) {
	query := `
		SELECT id, tenant_id, kind, COALESCE(slug, '')
		FROM targets
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY id
	`

	rows, err := p.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (campaign.Target, error) {
		var t campaign.Target
		err := row.Scan(&t.ID, &t.TenantID, &t.Kind, &t.Slug)

		return t, err
	})
}

func (p *PostgresStore) CIDExists(ctx context.Context, tenantID, cid string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM campaign_links WHERE tenant_id = $1 AND cid = $2)`

	var exists bool
	if err := p.pool.QueryRow(ctx, query, tenantID, cid).Scan(&exists); err != nil {
		return false, err
	}

	return exists, nil
}

func (p *PostgresStore) InsertLink(ctx context.Context, link *campaign.Link) error {
	query := `
		INSERT INTO campaign_links (
			id, tenant_id, name, target_id, landing_variant, cid,
			utm_source, utm_medium, utm_campaign, utm_term, utm_content,
			status, start_date, created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := p.pool.Exec(ctx, query,
		link.ID,
		link.TenantID,
		link.Name,
		link.TargetID,
		string(link.Variant),
		nullable(link.CID),
		nullable(link.UTM.Source),
		nullable(link.UTM.Medium),
		nullable(link.UTM.Campaign),
		nullable(link.UTM.Term),
		nullable(link.UTM.Content),
		string(link.Status),
		optionalTime(link.StartDate),
		nullable(link.CreatedBy),
		link.CreatedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if strings.Contains(pgErr.ConstraintName, "cid") || strings.Contains(pgErr.Message, "cid") {
			return campaign.ErrCIDTaken
		}

		return campaign.ErrConflict
	}

	return err
}

const linkColumns = `
	id, tenant_id, name, target_id, landing_variant, COALESCE(cid, ''),
	COALESCE(utm_source, ''), COALESCE(utm_medium, ''), COALESCE(utm_campaign, ''),
	COALESCE(utm_term, ''), COALESCE(utm_content, ''),
	status, start_date, COALESCE(created_by, ''), created_at
`

func scanLink(row pgx.Row) (campaign.Link, error) {
	var l campaign.Link

	err := row.Scan(
		&l.ID, &l.TenantID, &l.Name, &l.TargetID, &l.Variant, &l.CID,
		&l.UTM.Source, &l.UTM.Medium, &l.UTM.Campaign, &l.UTM.Term, &l.UTM.Content,
		&l.Status, &l.StartDate, &l.CreatedBy, &l.CreatedAt,
	)

	return l, err
}

func (p *PostgresStore) GetLink(ctx context.Context, tenantID, id string) (*campaign.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM campaign_links WHERE tenant_id = $1 AND id = $2`

	l, err := scanLink(p.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		return nil, notFound(err)
	}

	return &l, nil
}

func (p *PostgresStore) ListLinks(ctx context.Context, tenantID, targetID string) ([]campaign.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM campaign_links
		WHERE tenant_id = $1 AND ($2 = '' OR target_id = $2)
		ORDER BY created_at DESC, id
	`

	rows, err := p.pool.Query(ctx, query, tenantID, targetID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (campaign.Link, error) {
		return scanLink(row)
	})
}

func (p *PostgresStore) SetLinkStatus(ctx context.Context, tenantID, id string, status campaign.Status) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE campaign_links SET status = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, string(status))
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return campaign.ErrNotFound
	}

	return nil
}

// UpdateLink overwrites the mutable fields of a link. A name taken by another link is ErrConflict.
func (p *PostgresStore) UpdateLink(ctx context.Context, link *campaign.Link) error {
	query := `
		UPDATE campaign_links
		SET name = $3, target_id = $4, landing_variant = $5,
			utm_source = $6, utm_medium = $7, utm_campaign = $8, utm_term = $9, utm_content = $10,
			status = $11, start_date = $12
		WHERE tenant_id = $1 AND id = $2
	`

	tag, err := p.pool.Exec(ctx, query,
		link.TenantID,
		link.ID,
		link.Name,
		link.TargetID,
		string(link.Variant),
		nullable(link.UTM.Source),
		nullable(link.UTM.Medium),
		nullable(link.UTM.Campaign),
		nullable(link.UTM.Term),
		nullable(link.UTM.Content),
		string(link.Status),
		optionalTime(link.StartDate),
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return campaign.ErrConflict
	}

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return campaign.ErrNotFound
	}

	return nil
}

func (p *PostgresStore) InsertShortLink(ctx context.Context, link *campaign.ShortLink) error {
	query := `
		INSERT INTO short_links (code, tenant_id, target_id, link_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO NOTHING
	`

	tag, err := p.pool.Exec(ctx, query,
		link.Code,
		link.TenantID,
		link.TargetID,
		nullable(link.LinkID),
		optionalTime(link.ExpiresAt),
		link.CreatedAt,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return campaign.ErrConflict
	}

	return nil
}

func (p *PostgresStore) GetShortLink(ctx context.Context, code string) (*campaign.ShortLink, error) {
	query := `
		SELECT code, tenant_id, target_id, COALESCE(link_id::text, ''), expires_at, created_at
		FROM short_links
		WHERE code = $1
	`

	var l campaign.ShortLink

	err := p.pool.QueryRow(ctx, query, code).Scan(
		&l.Code, &l.TenantID, &l.TargetID, &l.LinkID, &l.ExpiresAt, &l.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	return &l, nil
}

func (p *PostgresStore) AppendAccess(ctx context.Context, e *campaign.AccessLogEntry) error {
	query := `
		INSERT INTO access_logs (
			id, tenant_id, target_id, session_id, link_id, cid,
			utm_source, utm_medium, utm_campaign, utm_term, utm_content,
			referrer, user_agent, client_ip, source, accessed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := p.pool.Exec(ctx, query,
		e.ID, e.TenantID, e.TargetID, e.SessionID, nullable(e.LinkID), nullable(e.CID),
		nullable(e.UTM.Source), nullable(e.UTM.Medium), nullable(e.UTM.Campaign),
		nullable(e.UTM.Term), nullable(e.UTM.Content),
		nullable(e.Referrer), nullable(e.UserAgent), nullable(e.ClientIP),
		string(e.Source), e.AccessedAt,
	)

	return err
}

func (p *PostgresStore) ListAccess(ctx context.Context, f campaign.AccessFilter) ([]campaign.AccessLogEntry, error) {
	var w where

	w.eq("tenant_id", f.TenantID)
	w.eq("target_id", f.TargetID)
	w.eq("session_id", f.SessionID)
	w.eq("source", string(f.Source))
	w.window("accessed_at", f.Window)

	query := `
		SELECT id, tenant_id, target_id, session_id, COALESCE(link_id::text, ''), COALESCE(cid, ''),
			COALESCE(utm_source, ''), COALESCE(utm_medium, ''), COALESCE(utm_campaign, ''),
			COALESCE(utm_term, ''), COALESCE(utm_content, ''),
			COALESCE(referrer, ''), COALESCE(user_agent, ''), COALESCE(client_ip, ''),
			source, accessed_at
		FROM access_logs` + w.sql() + `
		ORDER BY accessed_at, id`

	rows, err := p.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (campaign.AccessLogEntry, error) {
		var e campaign.AccessLogEntry
		err := row.Scan(
			&e.ID, &e.TenantID, &e.TargetID, &e.SessionID, &e.LinkID, &e.CID,
			&e.UTM.Source, &e.UTM.Medium, &e.UTM.Campaign, &e.UTM.Term, &e.UTM.Content,
			&e.Referrer, &e.UserAgent, &e.ClientIP, &e.Source, &e.AccessedAt,
		)

		return e, err
	})
}

func (p *PostgresStore) AppendConversion(ctx context.Context, c *campaign.Conversion) error {
	query := `
		INSERT INTO conversions (
			id, tenant_id, target_id, link_id, session_id, email, name, phone, payload, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var payload []byte
	if len(c.Payload) > 0 {
		payload = c.Payload
	}

	_, err := p.pool.Exec(ctx, query,
		c.ID, c.TenantID, c.TargetID, nullable(c.LinkID), nullable(c.SessionID),
		nullable(c.Contact.Email), nullable(c.Contact.Name), nullable(c.Contact.Phone),
		payload, c.CreatedAt,
	)

	return err
}

func (p *PostgresStore) ListConversions(ctx context.Context, f campaign.ConversionFilter) ([]campaign.Conversion, error) {
	var w where

	w.eq("tenant_id", f.TenantID)
	w.eq("target_id", f.TargetID)
	w.window("created_at", f.Window)

	query := `
		SELECT id, tenant_id, target_id, COALESCE(link_id::text, ''), COALESCE(session_id, ''),
			COALESCE(email, ''), COALESCE(name, ''), COALESCE(phone, ''), payload, created_at
		FROM conversions` + w.sql() + `
		ORDER BY created_at, id`

	rows, err := p.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (campaign.Conversion, error) {
		var c campaign.Conversion
		err := row.Scan(
			&c.ID, &c.TenantID, &c.TargetID, &c.LinkID, &c.SessionID,
			&c.Contact.Email, &c.Contact.Name, &c.Contact.Phone, &c.Payload, &c.CreatedAt,
		)

		return c, err
	})
}

// count runs a metric query over a bounded window.
func (p *PostgresStore) count(ctx context.Context, query, targetID string, w campaign.Window) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, query, targetID, w.From, w.To).Scan(&n); err != nil {
		return 0, err
	}

	return n, nil
}

func (p *PostgresStore) CountVisits(ctx context.Context, targetID string, w campaign.Window) (int64, error) {
	return p.count(ctx, `
		SELECT COUNT(DISTINCT session_id) FROM access_logs
		WHERE target_id = $1 AND accessed_at >= $2 AND accessed_at < $3`, targetID, w)
}

func (p *PostgresStore) CountConversions(ctx context.Context, targetID string, w campaign.Window) (int64, error) {
	return p.count(ctx, `
		SELECT COUNT(DISTINCT COALESCE(NULLIF(lower(trim(email)), ''), 'id:' || id::text)) FROM conversions
		WHERE target_id = $1 AND created_at >= $2 AND created_at < $3`, targetID, w)
}

func (p *PostgresStore) CountFormResponses(ctx context.Context, targetID string, w campaign.Window) (int64, error) {
	return p.count(ctx, `
		SELECT COUNT(*) FROM form_responses
		WHERE target_id = $1 AND created_at >= $2 AND created_at < $3`, targetID, w)
}

func (p *PostgresStore) CountParticipations(ctx context.Context, targetID string, w campaign.Window) (int64, error) {
	return p.count(ctx, `
		SELECT COUNT(*) FROM participations
		WHERE target_id = $1 AND created_at >= $2 AND created_at < $3`, targetID, w)
}

func (p *PostgresStore) CountClicks(ctx context.Context, targetID string, w campaign.Window) (int64, error) {
	return p.count(ctx, `
		SELECT COUNT(*) FROM access_logs
		WHERE target_id = $1 AND source = 'redirect' AND accessed_at >= $2 AND accessed_at < $3`, targetID, w)
}

// UpsertDailyStat writes a row keyed by (entity, link, day). Rows whose metrics are
// unchanged are left untouched, including last_aggregated_at.
func (p *PostgresStore) UpsertDailyStat(ctx context.Context, s campaign.DailyStat) (bool, error) {
	query := `
		INSERT INTO daily_stats (
			entity_id, link_id, bucket_date,
			visits, conversions, form_responses, participations, clicks, last_aggregated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (entity_id, link_id, bucket_date) DO UPDATE SET
			visits = EXCLUDED.visits,
			conversions = EXCLUDED.conversions,
			form_responses = EXCLUDED.form_responses,
			participations = EXCLUDED.participations,
			clicks = EXCLUDED.clicks,
			last_aggregated_at = EXCLUDED.last_aggregated_at
		WHERE (daily_stats.visits, daily_stats.conversions, daily_stats.form_responses,
			daily_stats.participations, daily_stats.clicks)
			IS DISTINCT FROM
			(EXCLUDED.visits, EXCLUDED.conversions, EXCLUDED.form_responses,
			EXCLUDED.participations, EXCLUDED.clicks)
	`

	tag, err := p.pool.Exec(ctx, query,
		s.EntityID, s.LinkID, campaign.DayBucket(s.BucketDate),
		s.Visits, s.Conversions, s.FormResponses, s.Participations, s.Clicks,
		s.LastAggregatedAt,
	)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() > 0, nil
}

func (p *PostgresStore) ListDailyStats(ctx context.Context, f campaign.StatFilter) ([]campaign.DailyStat, error) {
	var w where

	w.eq("entity_id", f.EntityID)
	w.add("link_id = $%d", f.LinkID)
	w.window("bucket_date", f.Window)

	query := `
		SELECT entity_id, link_id, bucket_date,
			visits, conversions, form_responses, participations, clicks, last_aggregated_at
		FROM daily_stats` + w.sql() + `
		ORDER BY bucket_date`

	rows, err := p.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (campaign.DailyStat, error) {
		var s campaign.DailyStat
		err := row.Scan(
			&s.EntityID, &s.LinkID, &s.BucketDate,
			&s.Visits, &s.Conversions, &s.FormResponses, &s.Participations, &s.Clicks,
			&s.LastAggregatedAt,
		)
		s.BucketDate = s.BucketDate.UTC()

		return s, err
	})
}

// where accumulates optional AND conditions with positional arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(format, len(w.args)))
}

func (w *where) eq(column, value string) {
	if value != "" {
		w.add(column+" = $%d", value)
	}
}

func (w *where) window(column string, win campaign.Window) {
	if !win.From.IsZero() {
		w.add(column+" >= $%d", win.From)
	}

	if !win.To.IsZero() {
		w.add(column+" < $%d", win.To)
	}
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}

	return " WHERE " + strings.Join(w.conds, " AND ")
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return campaign.ErrNotFound
	}

	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

// Compile-time check.
var _ Repository = (*PostgresStore)(nil)
