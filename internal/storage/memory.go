package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pulsetrack/pulsetrack/internal/models"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// MemoryStore provides in-memory storage for all entities. It is not
// durable and resets on process restart; it backs the server when no
// database is configured and is used by tests.
type MemoryStore struct {
	mu        sync.RWMutex
	sites     map[string]*models.Site
	sessions  map[string]*models.Session
	pageViews map[string]*models.PageView
	events    map[string]*models.Event

	// Indexes for faster lookups
	eventsBySite    map[string][]string // site_id -> []event_id
	pageViewsBySite map[string][]string // site_id -> []pageview_id
	sessionsBySite  map[string][]string // site_id -> []session_id
}

// NewMemoryStore creates a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sites:           make(map[string]*models.Site),
		sessions:        make(map[string]*models.Session),
		pageViews:       make(map[string]*models.PageView),
		events:          make(map[string]*models.Event),
		eventsBySite:    make(map[string][]string),
		pageViewsBySite: make(map[string][]string),
		sessionsBySite:  make(map[string][]string),
	}
}

// =============================================
// Sites
// =============================================

func (s *MemoryStore) Create(ctx context.Context, site *models.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *site
	s.sites[site.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*models.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	site, ok := s.sites[id]
	if !ok {
		return nil, nil
	}
	cp := *site
	return &cp, nil
}

func (s *MemoryStore) GetByDomain(ctx context.Context, userID, domain string) (*models.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, site := range s.sites {
		if site.Domain == domain && site.UserID == userID {
			cp := *site
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) List(ctx context.Context, userID string) ([]*models.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Site, 0, len(s.sites))
	for _, site := range s.sites {
		if userID != "" && site.UserID != userID {
			continue
		}
		cp := *site
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Delete removes the site and cascades to its sessions, page views
// and events.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sites[id]; !ok {
		return ErrNotFound
	}
	delete(s.sites, id)

	for _, eid := range s.eventsBySite[id] {
		delete(s.events, eid)
	}
	delete(s.eventsBySite, id)

	for _, pid := range s.pageViewsBySite[id] {
		delete(s.pageViews, pid)
	}
	delete(s.pageViewsBySite, id)

	for _, sid := range s.sessionsBySite[id] {
		delete(s.sessions, sid)
	}
	delete(s.sessionsBySite, id)

	return nil
}

// =============================================
// Sessions
// =============================================

func (s *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	s.sessions[session.ID] = &cp
	s.sessionsBySite[session.SiteID] = append(s.sessionsBySite[session.SiteID], session.ID)
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *session
	return &cp, nil
}

func (s *MemoryStore) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.EndedAt != nil {
		return ErrNotFound
	}
	t := endedAt
	session.EndedAt = &t
	return nil
}

func (s *MemoryStore) ListBySite(ctx context.Context, siteID string, start, end time.Time) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Session
	for _, sid := range s.sessionsBySite[siteID] {
		session := s.sessions[sid]
		if session == nil || !within(session.StartedAt, start, end) {
			continue
		}
		cp := *session
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

func (s *MemoryStore) CountDistinctUsers(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make(map[string]struct{})
	for _, sid := range s.sessionsBySite[siteID] {
		session := s.sessions[sid]
		if session != nil && within(session.StartedAt, start, end) {
			users[session.UserID] = struct{}{}
		}
	}
	return int64(len(users)), nil
}

func (s *MemoryStore) ClosedDurations(ctx context.Context, siteID string, start, end time.Time) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var durations []float64
	for _, sid := range s.sessionsBySite[siteID] {
		session := s.sessions[sid]
		if session == nil || session.EndedAt == nil || !within(session.StartedAt, start, end) {
			continue
		}
		durations = append(durations, session.EndedAt.Sub(session.StartedAt).Seconds())
	}
	return durations, nil
}

// =============================================
// Page views
// =============================================

func (s *MemoryStore) CreatePageView(ctx context.Context, pv *models.PageView) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *pv
	s.pageViews[pv.ID] = &cp
	s.pageViewsBySite[pv.SiteID] = append(s.pageViewsBySite[pv.SiteID], pv.ID)
	return nil
}

func (s *MemoryStore) CountPageViews(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, pid := range s.pageViewsBySite[siteID] {
		if pv := s.pageViews[pid]; pv != nil && within(pv.Timestamp, start, end) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) PageViewTimes(ctx context.Context, siteID string, start, end time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var times []time.Time
	for _, pid := range s.pageViewsBySite[siteID] {
		if pv := s.pageViews[pid]; pv != nil && within(pv.Timestamp, start, end) {
			times = append(times, pv.Timestamp)
		}
	}
	return times, nil
}

func (s *MemoryStore) DistinctPageViewSessions(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make(map[string]struct{})
	for _, pid := range s.pageViewsBySite[siteID] {
		pv := s.pageViews[pid]
		if pv != nil && pv.SessionID != "" && within(pv.Timestamp, start, end) {
			sessions[pv.SessionID] = struct{}{}
		}
	}
	return int64(len(sessions)), nil
}

func (s *MemoryStore) CountPageViewsBySessions(ctx context.Context, sessionIDs []string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(sessionIDs))
	for _, id := range sessionIDs {
		wanted[id] = struct{}{}
	}

	var count int64
	for _, pv := range s.pageViews {
		if _, ok := wanted[pv.SessionID]; ok {
			count++
		}
	}
	return count, nil
}

// =============================================
// Events
// =============================================

func (s *MemoryStore) CreateEvent(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *event
	s.events[event.ID] = &cp
	s.eventsBySite[event.SiteID] = append(s.eventsBySite[event.SiteID], event.ID)
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Event
	for _, event := range s.events {
		if filter.SiteID != "" && event.SiteID != filter.SiteID {
			continue
		}
		if filter.SessionID != "" && event.SessionID != filter.SessionID {
			continue
		}
		if filter.UserID != "" && event.UserID != filter.UserID {
			continue
		}
		if filter.Name != "" && event.Name != filter.Name {
			continue
		}
		if !filter.StartDate.IsZero() && event.Timestamp.Before(filter.StartDate) {
			continue
		}
		if !filter.EndDate.IsZero() && event.Timestamp.After(filter.EndDate) {
			continue
		}
		cp := *event
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *MemoryStore) CountEvents(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, eid := range s.eventsBySite[siteID] {
		if e := s.events[eid]; e != nil && within(e.Timestamp, start, end) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountEventsByName(ctx context.Context, siteID string, start, end time.Time) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, eid := range s.eventsBySite[siteID] {
		if e := s.events[eid]; e != nil && within(e.Timestamp, start, end) {
			counts[e.Name]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) CountEventsNamed(ctx context.Context, siteID, name string, start, end time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, eid := range s.eventsBySite[siteID] {
		if e := s.events[eid]; e != nil && e.Name == name && within(e.Timestamp, start, end) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) EventTimesNamed(ctx context.Context, siteID, name string, start, end time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var times []time.Time
	for _, eid := range s.eventsBySite[siteID] {
		if e := s.events[eid]; e != nil && e.Name == name && within(e.Timestamp, start, end) {
			times = append(times, e.Timestamp)
		}
	}
	return times, nil
}

func (s *MemoryStore) DistinctEventSessionCount(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make(map[string]struct{})
	for _, eid := range s.eventsBySite[siteID] {
		e := s.events[eid]
		if e != nil && e.SessionID != "" && within(e.Timestamp, start, end) {
			sessions[e.SessionID] = struct{}{}
		}
	}
	return int64(len(sessions)), nil
}

func (s *MemoryStore) SessionSpans(ctx context.Context, siteID string, start, end time.Time) ([]SessionSpan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spans := make(map[string]*SessionSpan)
	for _, eid := range s.eventsBySite[siteID] {
		e := s.events[eid]
		if e == nil || e.SessionID == "" || !within(e.Timestamp, start, end) {
			continue
		}
		span, ok := spans[e.SessionID]
		if !ok {
			spans[e.SessionID] = &SessionSpan{SessionID: e.SessionID, First: e.Timestamp, Last: e.Timestamp}
			continue
		}
		if e.Timestamp.Before(span.First) {
			span.First = e.Timestamp
		}
		if e.Timestamp.After(span.Last) {
			span.Last = e.Timestamp
		}
	}

	result := make([]SessionSpan, 0, len(spans))
	for _, span := range spans {
		result = append(result, *span)
	}
	return result, nil
}

func (s *MemoryStore) DistinctUserIDs(ctx context.Context, siteID string, start, end time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make(map[string]struct{})
	for _, eid := range s.eventsBySite[siteID] {
		e := s.events[eid]
		if e != nil && e.UserID != "" && within(e.Timestamp, start, end) {
			users[e.UserID] = struct{}{}
		}
	}

	result := make([]string, 0, len(users))
	for id := range users {
		result = append(result, id)
	}
	sort.Strings(result)
	return result, nil
}

func (s *MemoryStore) UserEventTimes(ctx context.Context, siteID, userID string, start, end time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var times []time.Time
	for _, eid := range s.eventsBySite[siteID] {
		e := s.events[eid]
		if e != nil && e.UserID == userID && within(e.Timestamp, start, end) {
			times = append(times, e.Timestamp)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times, nil
}

func within(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// =============================================
// Repo adapters
// =============================================

// MemorySiteRepo adapts MemoryStore to SiteRepo.
type MemorySiteRepo struct{ store *MemoryStore }

func NewMemorySiteRepo(store *MemoryStore) *MemorySiteRepo { return &MemorySiteRepo{store: store} }

func (r *MemorySiteRepo) Create(ctx context.Context, site *models.Site) error {
	return r.store.Create(ctx, site)
}

func (r *MemorySiteRepo) GetByID(ctx context.Context, id string) (*models.Site, error) {
	return r.store.GetByID(ctx, id)
}

func (r *MemorySiteRepo) GetByDomain(ctx context.Context, userID, domain string) (*models.Site, error) {
	return r.store.GetByDomain(ctx, userID, domain)
}

func (r *MemorySiteRepo) List(ctx context.Context, userID string) ([]*models.Site, error) {
	return r.store.List(ctx, userID)
}

func (r *MemorySiteRepo) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

// MemorySessionRepo adapts MemoryStore to SessionRepo.
type MemorySessionRepo struct{ store *MemoryStore }

func NewMemorySessionRepo(store *MemoryStore) *MemorySessionRepo {
	return &MemorySessionRepo{store: store}
}

func (r *MemorySessionRepo) Create(ctx context.Context, session *models.Session) error {
	return r.store.CreateSession(ctx, session)
}

func (r *MemorySessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	return r.store.GetSession(ctx, id)
}

func (r *MemorySessionRepo) End(ctx context.Context, id string, endedAt time.Time) error {
	return r.store.EndSession(ctx, id, endedAt)
}

func (r *MemorySessionRepo) ListBySite(ctx context.Context, siteID string, start, end time.Time) ([]*models.Session, error) {
	return r.store.ListBySite(ctx, siteID, start, end)
}

func (r *MemorySessionRepo) CountDistinctUsers(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	return r.store.CountDistinctUsers(ctx, siteID, start, end)
}

func (r *MemorySessionRepo) ClosedDurations(ctx context.Context, siteID string, start, end time.Time) ([]float64, error) {
	return r.store.ClosedDurations(ctx, siteID, start, end)
}

// MemoryPageViewRepo adapts MemoryStore to PageViewRepo.
type MemoryPageViewRepo struct{ store *MemoryStore }

func NewMemoryPageViewRepo(store *MemoryStore) *MemoryPageViewRepo {
	return &MemoryPageViewRepo{store: store}
}

func (r *MemoryPageViewRepo) Create(ctx context.Context, pv *models.PageView) error {
	return r.store.CreatePageView(ctx, pv)
}

func (r *MemoryPageViewRepo) Count(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	return r.store.CountPageViews(ctx, siteID, start, end)
}

func (r *MemoryPageViewRepo) Times(ctx context.Context, siteID string, start, end time.Time) ([]time.Time, error) {
	return r.store.PageViewTimes(ctx, siteID, start, end)
}

func (r *MemoryPageViewRepo) DistinctSessions(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	return r.store.DistinctPageViewSessions(ctx, siteID, start, end)
}

func (r *MemoryPageViewRepo) CountBySessions(ctx context.Context, sessionIDs []string) (int64, error) {
	return r.store.CountPageViewsBySessions(ctx, sessionIDs)
}

// MemoryEventRepo adapts MemoryStore to EventRepo.
type MemoryEventRepo struct{ store *MemoryStore }

func NewMemoryEventRepo(store *MemoryStore) *MemoryEventRepo {
	return &MemoryEventRepo{store: store}
}

func (r *MemoryEventRepo) Create(ctx context.Context, event *models.Event) error {
	return r.store.CreateEvent(ctx, event)
}

func (r *MemoryEventRepo) List(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	return r.store.ListEvents(ctx, filter)
}

func (r *MemoryEventRepo) Count(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	return r.store.CountEvents(ctx, siteID, start, end)
}

func (r *MemoryEventRepo) CountByName(ctx context.Context, siteID string, start, end time.Time) (map[string]int64, error) {
	return r.store.CountEventsByName(ctx, siteID, start, end)
}

func (r *MemoryEventRepo) CountNamed(ctx context.Context, siteID, name string, start, end time.Time) (int64, error) {
	return r.store.CountEventsNamed(ctx, siteID, name, start, end)
}

func (r *MemoryEventRepo) TimesNamed(ctx context.Context, siteID, name string, start, end time.Time) ([]time.Time, error) {
	return r.store.EventTimesNamed(ctx, siteID, name, start, end)
}

func (r *MemoryEventRepo) DistinctSessionCount(ctx context.Context, siteID string, start, end time.Time) (int64, error) {
	return r.store.DistinctEventSessionCount(ctx, siteID, start, end)
}

func (r *MemoryEventRepo) SessionSpans(ctx context.Context, siteID string, start, end time.Time) ([]SessionSpan, error) {
	return r.store.SessionSpans(ctx, siteID, start, end)
}

func (r *MemoryEventRepo) DistinctUserIDs(ctx context.Context, siteID string, start, end time.Time) ([]string, error) {
	return r.store.DistinctUserIDs(ctx, siteID, start, end)
}

func (r *MemoryEventRepo) UserEventTimes(ctx context.Context, siteID, userID string, start, end time.Time) ([]time.Time, error) {
	return r.store.UserEventTimes(ctx, siteID, userID, start, end)
}
