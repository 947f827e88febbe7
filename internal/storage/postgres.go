package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsetrack/pulsetrack/internal/models"
)

// PostgresSiteRepo implements SiteRepo using PostgreSQL.
type PostgresSiteRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSiteRepo(pool *pgxpool.Pool) *PostgresSiteRepo {
	return &PostgresSiteRepo{pool: pool}
}

func (r *PostgresSiteRepo) Create(ctx context.Context, site *models.Site) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sites (id, name, domain, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, site.ID, nullString(site.Name), site.Domain, nullString(site.UserID), site.CreatedAt, site.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}
	return nil
}

func (r *PostgresSiteRepo) GetByID(ctx context.Context, id string) (*models.Site, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, domain, user_id, created_at, updated_at
		FROM sites WHERE id = $1
	`, id)
	return scanSite(row)
}

func (r *PostgresSiteRepo) GetByDomain(ctx context.Context, userID, domain string) (*models.Site, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, domain, user_id, created_at, updated_at
		FROM sites WHERE domain = $1 AND (user_id = $2 OR ($2 = '' AND user_id IS NULL))
	`, domain, userID)
	return scanSite(row)
}

func (r *PostgresSiteRepo) List(ctx context.Context, userID string) ([]*models.Site, error) {
	query := `SELECT id, name, domain, user_id, created_at, updated_at FROM sites ORDER BY created_at DESC`
	args := []any{}
	if userID != "" {
		query = `SELECT id, name, domain, user_id, created_at, updated_at FROM sites WHERE user_id = $1 ORDER BY created_at DESC`
		args = append(args, userID)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	defer rows.Close()

	var sites []*models.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// Delete removes the site. Dependent sessions, page views and events
// go with it via ON DELETE CASCADE.
func (r *PostgresSiteRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete site: %w", err)
	}
	return nil
}

func scanSite(row pgx.Row) (*models.Site, error) {
	var s models.Site
	var name, userID *string

	err := row.Scan(&s.ID, &name, &s.Domain, &userID, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan site: %w", err)
	}

	if name != nil {
		s.Name = *name
	}
	if userID != nil {
		s.UserID = *userID
	}
	return &s, nil
}

// PostgresSessionRepo implements SessionRepo using PostgreSQL.
type PostgresSessionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionRepo(pool *pgxpool.Pool) *PostgresSessionRepo {
	return &PostgresSessionRepo{pool: pool}
}

func (r *PostgresSessionRepo) Create(ctx context.Context, session *models.Session) error {
	metadataJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO sessions (id, site_id, user_id, started_at, ended_at, user_agent, ip_address, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.SiteID, session.UserID, session.StartedAt, session.EndedAt,
		nullString(session.UserAgent), nullString(session.IPAddress), metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, site_id, user_id, started_at, ended_at, user_agent, ip_address, metadata
		FROM sessions WHERE id = $1
	`, id)
	return scanSession(row)
}

func (r *PostgresSessionRepo) End(ctx context.Context, id string, endedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET ended_at = $2 WHERE id = $1 AND ended_at IS NULL
	`, id, endedAt)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresSessionRepo) ListBySite(ctx context.Context, siteID string, start, end time.Time) ([]*models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, site_id, user_id, started_at, ended_at, user_agent, ip_address, metadata
		FROM sessions
		WHERE site_id = $1 AND started_at >= $2 AND started_at <= $3
		ORDER BY started_at
	`, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *PostgresSessionRepo) CountDistinctUsers(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT user_id) FROM sessions
		WHERE site_id = $1 AND started_at >= $2 AND started_at <= $3
	`, siteID, start, end).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count distinct users: %w", err)
	}
	return count, nil
}

func (r *PostgresSessionRepo) ClosedDurations(ctx context.Context, siteID string, start, end time.Time) ([]float64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT EXTRACT(EPOCH FROM (ended_at - started_at))
		FROM sessions
		WHERE site_id = $1 AND started_at >= $2 AND started_at <= $3 AND ended_at IS NOT NULL
	`, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query session durations: %w", err)
	}
	defer rows.Close()

	var durations []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		durations = append(durations, d)
	}
	return durations, rows.Err()
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	var userAgent, ipAddress *string
	var metadataJSON []byte

	err := row.Scan(&s.ID, &s.SiteID, &s.UserID, &s.StartedAt, &s.EndedAt, &userAgent, &ipAddress, &metadataJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if userAgent != nil {
		s.UserAgent = *userAgent
	}
	if ipAddress != nil {
		s.IPAddress = *ipAddress
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &s.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse session metadata: %w", err)
		}
	}
	return &s, nil
}

// PostgresPageViewRepo implements PageViewRepo using PostgreSQL.
type PostgresPageViewRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPageViewRepo(pool *pgxpool.Pool) *PostgresPageViewRepo {
	return &PostgresPageViewRepo{pool: pool}
}

func (r *PostgresPageViewRepo) Create(ctx context.Context, pv *models.PageView) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pageviews (id, site_id, session_id, url, referrer, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, pv.ID, pv.SiteID, nullString(pv.SessionID), nullString(pv.URL), nullString(pv.Referrer), pv.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to create pageview: %w", err)
	}
	return nil
}

func (r *PostgresPageViewRepo) Count(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM pageviews
		WHERE site_id = $1 AND timestamp >= $2 AND timestamp <= $3
	`, siteID, start, end).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pageviews: %w", err)
	}
	return count, nil
}

func (r *PostgresPageViewRepo) Times(ctx context.Context, siteID string, start, end time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT timestamp FROM pageviews
		WHERE site_id = $1 AND timestamp >= $2 AND timestamp <= $3
	`, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query pageview times: %w", err)
	}
	defer rows.Close()
	return scanTimes(rows)
}

func (r *PostgresPageViewRepo) DistinctSessions(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT session_id) FROM pageviews
		WHERE site_id = $1 AND session_id IS NOT NULL AND timestamp >= $2 AND timestamp <= $3
	`, siteID, start, end).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pageview sessions: %w", err)
	}
	return count, nil
}

func (r *PostgresPageViewRepo) CountBySessions(ctx context.Context, sessionIDs []string) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM pageviews WHERE session_id = ANY($1)
	`, sessionIDs).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pageviews by session: %w", err)
	}
	return count, nil
}

// PostgresEventRepo implements EventRepo using PostgreSQL.
type PostgresEventRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresEventRepo(pool *pgxpool.Pool) *PostgresEventRepo {
	return &PostgresEventRepo{pool: pool}
}

func (r *PostgresEventRepo) Create(ctx context.Context, event *models.Event) error {
	propsJSON, err := json.Marshal(event.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal event properties: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO events (id, site_id, session_id, user_id, name, properties, url, referrer, country, region, city, user_agent, ip_address, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, event.ID, event.SiteID, nullString(event.SessionID), nullString(event.UserID), event.Name,
		propsJSON, nullString(event.URL), nullString(event.Referrer),
		nullString(event.Country), nullString(event.Region), nullString(event.City),
		nullString(event.UserAgent), nullString(event.IPAddress), event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *PostgresEventRepo) List(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	query := `SELECT id, site_id, session_id, user_id, name, properties, url, referrer, country, region, city, user_agent, ip_address, timestamp FROM events WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.SiteID != "" {
		query += ` AND site_id = ` + arg(filter.SiteID)
	}
	if filter.SessionID != "" {
		query += ` AND session_id = ` + arg(filter.SessionID)
	}
	if filter.UserID != "" {
		query += ` AND user_id = ` + arg(filter.UserID)
	}
	if filter.Name != "" {
		query += ` AND name = ` + arg(filter.Name)
	}
	if !filter.StartDate.IsZero() {
		query += ` AND timestamp >= ` + arg(filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += ` AND timestamp <= ` + arg(filter.EndDate)
	}

	query += ` ORDER BY timestamp DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 10000
	}
	query += ` LIMIT ` + arg(limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		var sessionID, userID, url, referrer, country, region, city, userAgent, ipAddress *string
		var propsJSON []byte

		if err := rows.Scan(&e.ID, &e.SiteID, &sessionID, &userID, &e.Name, &propsJSON,
			&url, &referrer, &country, &region, &city, &userAgent, &ipAddress, &e.Timestamp); err != nil {
			return nil, err
		}

		if sessionID != nil {
			e.SessionID = *sessionID
		}
		if userID != nil {
			e.UserID = *userID
		}
		if url != nil {
			e.URL = *url
		}
		if referrer != nil {
			e.Referrer = *referrer
		}
		if country != nil {
			e.Country = *country
		}
		if region != nil {
			e.Region = *region
		}
		if city != nil {
			e.City = *city
		}
		if userAgent != nil {
			e.UserAgent = *userAgent
		}
		if ipAddress != nil {
			e.IPAddress = *ipAddress
		}
		if len(propsJSON) > 0 {
			if err := json.Unmarshal(propsJSON, &e.Properties); err != nil {
				return nil, fmt.Errorf("failed to parse event properties: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *PostgresEventRepo) Count(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM events
		WHERE site_id = $1 AND timestamp >= $2 AND timestamp <= $3
	`, siteID, start, end).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

func (r *PostgresEventRepo) CountByName(ctx context.Context, siteID string, start, end time.Time) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, COUNT(*) FROM events
		WHERE site_id = $1 AND timestamp >= $2 AND timestamp <= $3
		GROUP BY name
	`, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by name: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		counts[name] = count
	}
	return counts, rows.Err()
}

func (r *PostgresEventRepo) CountNamed(ctx context.Context, siteID, name string, start, end time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM events
		WHERE site_id = $1 AND name = $2 AND timestamp >= $3 AND timestamp <= $4
	`, siteID, name, start, end).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %q events: %w", name, err)
	}
	return count, nil
}

func (r *PostgresEventRepo) TimesNamed(ctx context.Context, siteID, name string, start, end time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT timestamp FROM events
		WHERE site_id = $1 AND name = $2 AND timestamp >= $3 AND timestamp <= $4
	`, siteID, name, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q event times: %w", name, err)
	}
	defer rows.Close()
	return scanTimes(rows)
}

func (r *PostgresEventRepo) DistinctSessionCount(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT session_id) FROM events
		WHERE site_id = $1 AND session_id IS NOT NULL AND timestamp >= $2 AND timestamp <= $3
	`, siteID, start, end).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count event sessions: %w", err)
	}
	return count, nil
}

func (r *PostgresEventRepo) SessionSpans(ctx context.Context, siteID string, start, end time.Time) ([]SessionSpan, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session_id, MIN(timestamp), MAX(timestamp) FROM events
		WHERE site_id = $1 AND session_id IS NOT NULL AND timestamp >= $2 AND timestamp <= $3
		GROUP BY session_id
	`, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query session spans: %w", err)
	}
	defer rows.Close()

	var spans []SessionSpan
	for rows.Next() {
		var span SessionSpan
		if err := rows.Scan(&span.SessionID, &span.First, &span.Last); err != nil {
			return nil, err
		}
		spans = append(spans, span)
	}
	return spans, rows.Err()
}

func (r *PostgresEventRepo) DistinctUserIDs(ctx context.Context, siteID string, start, end time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT user_id FROM events
		WHERE site_id = $1 AND user_id IS NOT NULL AND timestamp >= $2 AND timestamp <= $3
	`, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (r *PostgresEventRepo) UserEventTimes(ctx context.Context, siteID, userID string, start, end time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT timestamp FROM events
		WHERE site_id = $1 AND user_id = $2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp
	`, siteID, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query user event times: %w", err)
	}
	defer rows.Close()
	return scanTimes(rows)
}

func scanTimes(rows pgx.Rows) ([]time.Time, error) {
	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
