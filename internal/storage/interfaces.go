package storage

import (
	"context"
	"time"

	"github.com/pulsetrack/pulsetrack/internal/models"
)

// =============================================
// SITE REPOSITORY
// =============================================

// SiteRepo defines operations for site storage. Deleting a site
// cascades to its sessions, page views and events.
type SiteRepo interface {
	Create(ctx context.Context, site *models.Site) error
	GetByID(ctx context.Context, id string) (*models.Site, error)
	GetByDomain(ctx context.Context, userID, domain string) (*models.Site, error)
	List(ctx context.Context, userID string) ([]*models.Site, error)
	Delete(ctx context.Context, id string) error
}

// =============================================
// SESSION REPOSITORY
// =============================================

// SessionRepo defines operations for session storage.
type SessionRepo interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	End(ctx context.Context, id string, endedAt time.Time) error

	// ListBySite returns sessions started within [start, end].
	ListBySite(ctx context.Context, siteID string, start, end time.Time) ([]*models.Session, error)
	// CountDistinctUsers counts distinct user ids among sessions
	// started within [start, end].
	CountDistinctUsers(ctx context.Context, siteID string, start, end time.Time) (int64, error)
	// ClosedDurations returns the durations in seconds of sessions
	// started within the window that have an end time. Open sessions
	// are excluded, not treated as zero.
	ClosedDurations(ctx context.Context, siteID string, start, end time.Time) ([]float64, error)
}

// =============================================
// PAGE VIEW REPOSITORY
// =============================================

// PageViewRepo defines operations for page view storage.
type PageViewRepo interface {
	Create(ctx context.Context, pv *models.PageView) error

	Count(ctx context.Context, siteID string, start, end time.Time) (int64, error)
	// Times returns the timestamps of page views within the window,
	// in no particular order.
	Times(ctx context.Context, siteID string, start, end time.Time) ([]time.Time, error)
	// DistinctSessions counts distinct session ids among page views
	// within the window. This is the funnel's "Visitors" stage.
	DistinctSessions(ctx context.Context, siteID string, start, end time.Time) (int64, error)
	// CountBySessions counts page views belonging to any of the given
	// sessions.
	CountBySessions(ctx context.Context, sessionIDs []string) (int64, error)
}

// =============================================
// EVENT REPOSITORY
// =============================================

// SessionSpan is the first and last event timestamp observed for one
// session, used by the bounce rate computation.
type SessionSpan struct {
	SessionID string
	First     time.Time
	Last      time.Time
}

// EventRepo defines operations for event storage, including the
// aggregate query surface the metrics engine consumes.
type EventRepo interface {
	Create(ctx context.Context, event *models.Event) error
	List(ctx context.Context, filter models.EventFilter) ([]*models.Event, error)

	// Aggregations over a time window
	Count(ctx context.Context, siteID string, start, end time.Time) (int64, error)
	CountByName(ctx context.Context, siteID string, start, end time.Time) (map[string]int64, error)
	CountNamed(ctx context.Context, siteID, name string, start, end time.Time) (int64, error)
	TimesNamed(ctx context.Context, siteID, name string, start, end time.Time) ([]time.Time, error)
	DistinctSessionCount(ctx context.Context, siteID string, start, end time.Time) (int64, error)
	SessionSpans(ctx context.Context, siteID string, start, end time.Time) ([]SessionSpan, error)
	DistinctUserIDs(ctx context.Context, siteID string, start, end time.Time) ([]string, error)
	// UserEventTimes returns the user's event timestamps within the
	// window sorted ascending.
	UserEventTimes(ctx context.Context, siteID, userID string, start, end time.Time) ([]time.Time, error)
}

// =============================================
// RAW EVENT ARCHIVE
// =============================================

// EventArchive is a best-effort sink for raw events, kept outside the
// relational store for offline analysis. Implementations must never
// block or fail the ingest path.
type EventArchive interface {
	Archive(event *models.Event)
	Close() error
}
