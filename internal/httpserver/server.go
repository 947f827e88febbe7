package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsetrack/pulsetrack/internal/analytics"
	"github.com/pulsetrack/pulsetrack/internal/config"
	"github.com/pulsetrack/pulsetrack/internal/database"
	"github.com/pulsetrack/pulsetrack/internal/geo"
	"github.com/pulsetrack/pulsetrack/internal/live"
	"github.com/pulsetrack/pulsetrack/internal/metrics"
	"github.com/pulsetrack/pulsetrack/internal/middleware"
	"github.com/pulsetrack/pulsetrack/internal/models"
	"github.com/pulsetrack/pulsetrack/internal/storage"
)

// Dependencies holds all external dependencies for the server. Archive
// may be nil; events are then stored relationally only. The caller
// owns Archive's lifecycle so buffered events flush on shutdown.
type Dependencies struct {
	DB      *database.PostgresDB
	Redis   *database.RedisDB
	Archive storage.EventArchive
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server wraps HTTP handlers and tracking services.
type Server struct {
	sites     storage.SiteRepo
	sessions  storage.SessionRepo
	pageViews storage.PageViewRepo
	events    storage.EventRepo
	archive   storage.EventArchive

	engine *analytics.Engine
	hub    *live.Hub
	geo    *geo.Resolver

	logger  *zap.Logger
	config  *config.Config
	metrics *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := newServer(deps)
	return s.routes()
}

func newServer(deps *Dependencies) *Server {
	// Initialize repositories
	var (
		siteRepo     storage.SiteRepo
		sessionRepo  storage.SessionRepo
		pageViewRepo storage.PageViewRepo
		eventRepo    storage.EventRepo
	)

	if deps.DB != nil {
		siteRepo = storage.NewPostgresSiteRepo(deps.DB.Pool)
		sessionRepo = storage.NewPostgresSessionRepo(deps.DB.Pool)
		pageViewRepo = storage.NewPostgresPageViewRepo(deps.DB.Pool)
		eventRepo = storage.NewPostgresEventRepo(deps.DB.Pool)
	} else {
		store := storage.NewMemoryStore()
		siteRepo = storage.NewMemorySiteRepo(store)
		sessionRepo = storage.NewMemorySessionRepo(store)
		pageViewRepo = storage.NewMemoryPageViewRepo(store)
		eventRepo = storage.NewMemoryEventRepo(store)
	}

	// Initialize the raw-event archive
	var archive storage.EventArchive = storage.NoopArchive{}
	if deps.Archive != nil {
		archive = deps.Archive
	}

	// Initialize geo enrichment
	var resolver *geo.Resolver
	if deps.Config.Geo.Enabled {
		provider, err := geo.NewMaxMindProvider(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to initialize geo provider, events will not be enriched", zap.Error(err))
		} else {
			resolver = geo.NewResolver(provider, deps.Config.Geo.CacheSize, deps.Config.Geo.CacheTTL)
			resolver.SetMetrics(deps.Metrics)
		}
	}

	engine := analytics.NewEngine(
		sessionRepo,
		pageViewRepo,
		eventRepo,
		deps.Config.Analytics.DefaultWindowDays,
		deps.Logger,
	)

	clicks := live.NewClickAggregator(deps.Config.Live.Window)
	hub := live.NewHub(clicks, engine, deps.Config.Live.PushInterval, deps.Logger)
	hub.SetMetrics(deps.Metrics)

	return &Server{
		sites:     siteRepo,
		sessions:  sessionRepo,
		pageViews: pageViewRepo,
		events:    eventRepo,
		archive:   archive,
		engine:    engine,
		hub:       hub,
		geo:       resolver,
		logger:    deps.Logger,
		config:    deps.Config,
		metrics:   deps.Metrics,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if s.config.Metrics.Enabled {
		mux.Handle(s.config.Metrics.Path, metrics.Handler())
	}

	// Sites
	mux.HandleFunc("/sites", s.handleSites)
	mux.HandleFunc("/sites/", s.handleSiteByID)

	// Event ingest and listing
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/events/counts", s.handleEventCounts)

	// Sessions
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSessionByID)

	// Metric queries
	mux.HandleFunc("/overview", s.handleOverview)
	mux.HandleFunc("/pages", s.handlePagePerformance)
	mux.HandleFunc("/page-visits", s.handlePageVisits)
	mux.HandleFunc("/click-rate", s.handleClickRate)
	mux.HandleFunc("/bounce-rate", s.handleBounceRate)
	mux.HandleFunc("/conversion-rate", s.handleConversionRate)
	mux.HandleFunc("/retention-rate", s.handleRetentionRate)
	mux.HandleFunc("/funnel", s.handleFunnel)
	mux.HandleFunc("/behavior", s.handleBehavior)

	// Live channel
	mux.HandleFunc("/ws", s.handleWebSocket)

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Sites ----

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		list, err := s.sites.List(r.Context(), userID)
		if err != nil {
			s.logger.Error("failed to list sites", zap.Error(err))
			s.errorResponse(w, "failed to list sites", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, list)

	case http.MethodPost:
		var site models.Site
		if err := json.NewDecoder(r.Body).Decode(&site); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := site.Validate(); err != nil {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Domains are unique per user.
		existing, err := s.sites.GetByDomain(r.Context(), site.UserID, site.Domain)
		if err != nil {
			s.logger.Error("failed to check site domain", zap.Error(err))
			s.errorResponse(w, "failed to create site", http.StatusInternalServerError)
			return
		}
		if existing != nil {
			s.errorResponse(w, "domain already registered", http.StatusConflict)
			return
		}

		site.ID = uuid.NewString()
		site.CreatedAt = time.Now().UTC()
		site.UpdatedAt = site.CreatedAt
		if err := s.sites.Create(r.Context(), &site); err != nil {
			s.logger.Error("failed to create site", zap.Error(err))
			s.errorResponse(w, "failed to create site", http.StatusInternalServerError)
			return
		}

		s.updateTrackedSites(r)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(site)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// updateTrackedSites refreshes the registered-site gauge after a
// mutation.
func (s *Server) updateTrackedSites(r *http.Request) {
	if s.metrics == nil {
		return
	}
	sites, err := s.sites.List(r.Context(), "")
	if err != nil {
		return
	}
	s.metrics.UpdateTrackedSites(len(sites))
}

func (s *Server) handleSiteByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/sites/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		site, err := s.sites.GetByID(r.Context(), id)
		if err != nil {
			s.logger.Error("failed to get site", zap.Error(err))
			s.errorResponse(w, "failed to get site", http.StatusInternalServerError)
			return
		}
		if site == nil {
			http.NotFound(w, r)
			return
		}
		s.jsonResponse(w, site)

	case http.MethodDelete:
		// Removes the site and all dependent sessions, page views and
		// events.
		if err := s.sites.Delete(r.Context(), id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			s.logger.Error("failed to delete site", zap.Error(err))
			s.errorResponse(w, "failed to delete site", http.StatusInternalServerError)
			return
		}
		s.updateTrackedSites(r)
		w.WriteHeader(http.StatusNoContent)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ---- Events ----

type createEventRequest struct {
	SiteID     string            `json:"site_id"`
	SessionID  string            `json:"session_id"`
	UserID     string            `json:"user_id"`
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	Referrer   string            `json:"referrer"`
	Properties models.Properties `json:"properties"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateEvent(w, r)
	case http.MethodGet:
		s.handleListEvents(w, r)
	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if s.metrics != nil {
			s.metrics.RecordRejectedEvent("invalid_json")
		}
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	site, err := s.sites.GetByID(r.Context(), req.SiteID)
	if err != nil {
		s.logger.Error("failed to resolve site for event", zap.Error(err))
		s.errorResponse(w, "failed to store event", http.StatusInternalServerError)
		return
	}
	if site == nil {
		if s.metrics != nil {
			s.metrics.RecordRejectedEvent("unknown_site")
		}
		s.errorResponse(w, "unknown site", http.StatusNotFound)
		return
	}

	event := &models.Event{
		ID:         uuid.NewString(),
		SiteID:     req.SiteID,
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		Name:       req.Name,
		URL:        req.URL,
		Referrer:   req.Referrer,
		Properties: req.Properties,
		UserAgent:  r.UserAgent(),
		IPAddress:  middleware.ClientIP(r),
		Timestamp:  time.Now().UTC(),
	}
	if err := event.Validate(); err != nil {
		if s.metrics != nil {
			s.metrics.RecordRejectedEvent("invalid_event")
		}
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.geo != nil {
		if info := s.geo.Resolve(event.IPAddress); info != nil {
			event.Country = info.Country
			event.Region = info.Region
			event.City = info.City
		}
	}

	if err := s.events.Create(r.Context(), event); err != nil {
		s.logger.Error("failed to store event", zap.Error(err))
		s.errorResponse(w, "failed to store event", http.StatusInternalServerError)
		return
	}

	// Pageview events also produce a page view row for the visit
	// series.
	if event.Name == models.EventPageview {
		pv := &models.PageView{
			ID:        uuid.NewString(),
			SiteID:    event.SiteID,
			SessionID: event.SessionID,
			URL:       event.URL,
			Referrer:  event.Referrer,
			Timestamp: event.Timestamp,
		}
		if err := s.pageViews.Create(r.Context(), pv); err != nil {
			s.logger.Error("failed to store page view", zap.Error(err))
			s.errorResponse(w, "failed to store event", http.StatusInternalServerError)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordPageView(event.SiteID)
		}
	}

	// Click events feed the live dashboard channel.
	if event.Name == models.EventClick {
		s.hub.RecordClick(event.SiteID)
		if s.metrics != nil {
			s.metrics.RecordLiveClick(event.SiteID)
		}
	}

	s.archive.Archive(event)
	if s.metrics != nil {
		s.metrics.RecordEvent(event.SiteID, event.Name)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(event)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.EventFilter{
		SiteID:    q.Get("site_id"),
		SessionID: q.Get("session_id"),
		UserID:    q.Get("user_id"),
		Name:      q.Get("event_type"),
	}

	if v := q.Get("start_date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			s.errorResponse(w, "invalid start_date", http.StatusBadRequest)
			return
		}
		filter.StartDate = t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			s.errorResponse(w, "invalid end_date", http.StatusBadRequest)
			return
		}
		filter.EndDate = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorResponse(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	events, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list events", zap.Error(err))
		s.errorResponse(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, events)
}

// ---- Sessions ----

type createSessionRequest struct {
	SiteID   string            `json:"site_id"`
	UserID   string            `json:"user_id"`
	Metadata models.Properties `json:"metadata"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.SiteID == "" {
		s.errorResponse(w, "site_id is required", http.StatusBadRequest)
		return
	}

	site, err := s.sites.GetByID(r.Context(), req.SiteID)
	if err != nil {
		s.logger.Error("failed to resolve site for session", zap.Error(err))
		s.errorResponse(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	if site == nil {
		s.errorResponse(w, "unknown site", http.StatusNotFound)
		return
	}

	session := &models.Session{
		ID:        uuid.NewString(),
		SiteID:    req.SiteID,
		UserID:    req.UserID,
		StartedAt: time.Now().UTC(),
		UserAgent: r.UserAgent(),
		IPAddress: middleware.ClientIP(r),
		Metadata:  req.Metadata,
	}
	if err := s.sessions.Create(r.Context(), session); err != nil {
		s.logger.Error("failed to create session", zap.Error(err))
		s.errorResponse(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSessionStart(session.SiteID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(session)
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")

	// POST /sessions/{id}/end closes a session.
	if id, ok := strings.CutSuffix(rest, "/end"); ok && id != "" {
		if r.Method != http.MethodPost {
			s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := s.sessions.End(r.Context(), id, time.Now().UTC()); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			s.logger.Error("failed to end session", zap.Error(err))
			s.errorResponse(w, "failed to end session", http.StatusInternalServerError)
			return
		}
		session, err := s.sessions.GetByID(r.Context(), id)
		if err != nil {
			s.logger.Error("failed to load ended session", zap.Error(err))
			s.errorResponse(w, "failed to end session", http.StatusInternalServerError)
			return
		}
		if s.metrics != nil && session != nil {
			s.metrics.RecordSessionEnd(session.SiteID)
		}
		s.jsonResponse(w, session)
		return
	}

	if rest == "" || strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	session, err := s.sessions.GetByID(r.Context(), rest)
	if err != nil {
		s.logger.Error("failed to get session", zap.Error(err))
		s.errorResponse(w, "failed to get session", http.StatusInternalServerError)
		return
	}
	if session == nil {
		http.NotFound(w, r)
		return
	}
	s.jsonResponse(w, session)
}

// ---- Metric queries ----

// siteWindow validates the common site_id/days query parameters. It
// writes the error response itself and reports ok=false when the
// request cannot proceed.
func (s *Server) siteWindow(w http.ResponseWriter, r *http.Request) (siteID string, days int, ok bool) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", 0, false
	}

	q := r.URL.Query()
	siteID = q.Get("site_id")
	if siteID == "" {
		s.errorResponse(w, "site_id is required", http.StatusBadRequest)
		return "", 0, false
	}

	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.errorResponse(w, "invalid days", http.StatusBadRequest)
			return "", 0, false
		}
		days = n
	}

	site, err := s.sites.GetByID(r.Context(), siteID)
	if err != nil {
		s.logger.Error("failed to resolve site", zap.Error(err))
		s.errorResponse(w, "failed to resolve site", http.StatusInternalServerError)
		return "", 0, false
	}
	if site == nil {
		s.errorResponse(w, "unknown site", http.StatusNotFound)
		return "", 0, false
	}

	return siteID, days, true
}

// metricFailure logs an engine error and writes the generic server
// error response.
func (s *Server) metricFailure(w http.ResponseWriter, metric, siteID string, err error) {
	s.logger.Error("metric computation failed",
		zap.String("metric", metric),
		zap.String("site_id", siteID),
		zap.Error(err))
	s.errorResponse(w, "failed to compute "+metric, http.StatusInternalServerError)
}

func (s *Server) recordMetricQuery(metric string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordMetricQuery(metric, time.Since(start))
	}
}

func (s *Server) handleEventCounts(w http.ResponseWriter, r *http.Request) {
	siteID, days, ok := s.siteWindow(w, r)
	if !ok {
		return
	}
	start := time.Now()
	counts, err := s.engine.EventCounts(r.Context(), siteID, days)
	if err != nil {
		s.metricFailure(w, "event counts", siteID, err)
		return
	}
	s.recordMetricQuery("event_counts", start)
	s.jsonResponse(w, counts)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	siteID, days, ok := s.siteWindow(w, r)
	if !ok {
		return
	}
	start := time.Now()
	overview, err := s.engine.Overview(r.Context(), siteID, days)
	if err != nil {
		s.metricFailure(w, "overview", siteID, err)
		return
	}
	s.recordMetricQuery("overview", start)
	s.jsonResponse(w, overview)
}

func (s *Server) handlePagePerformance(w http.ResponseWriter, r *http.Request) {
	siteID, days, ok := s.siteWindow(w, r)
	if !ok {
		return
	}
	start := time.Now()
	series, err := s.engine.PagePerformance(r.Context(), siteID, days)
	if err != nil {
		s.metricFailure(w, "page performance", siteID, err)
		return
	}
	s.recordMetricQuery("page_performance", start)
	s.jsonResponse(w, series)
}

func (s *Server) handlePageVisits(w http.ResponseWriter, r *http.Request) {
	siteID, days, ok := s.siteWindow(w, r)
	if !ok {
		return
	}
	start := time.Now()
	series, err := s.engine.PageVisits(r.Context(), siteID, days)
	if err != nil {
		s.metricFailure(w, "page visits", siteID, err)
		return
	}
	s.recordMetricQuery("page_visits", start)
	s.jsonResponse(w, series)
}

func (s *Server) handleClickRate(w http.ResponseWriter, r *http.Request) {
	siteID, days, ok := s.siteWindow(w, r)
	if !ok {
		return
	}
	start := time.Now()
	rate, err := s.engine.ClickRate(r.Context(), siteID, days)
	if err != nil {
		s.metricFailure(w, "click rate", siteID, err)
		return
	}
	s.recordMetricQuery("click_rate", start)
	s.jsonResponse(w, map[string]any{"site_id": siteID, "click_rate": rate})
}

func (s *Server) handleBounceRate(w http.ResponseWriter, r *http.Request) {
	siteID, days, ok := s.siteWindow(w, r)
	if !ok {
		return
	}
	start := time.Now()
	rate, err := s.engine.BounceRate(r.Context(), siteID, days)
	if err != nil {
		s.metricFailure(w, "bounce rate", siteID, err)
		return
	}
	s.recordMetricQuery("bounce_rate", start)
	s.jsonResponse(w, map[string]any{"site_id": siteID, "bounce_rate": rate})
}

func (s *Server) handleConversionRate(w http.ResponseWriter, r *http.Request) {
	siteID, days, ok := s.siteWindow(w, r)
	if !ok {
		return
	}
	start := time.Now()
	rate, err := s.engine.ConversionRate(r.Context(), siteID, days)
	if err != nil {
		s.metricFailure(w, "conversion rate", siteID, err)
		return
	}
	s.recordMetricQuery("conversion_rate", start)
	s.jsonResponse(w, map[string]any{"site_id": siteID, "conversion_rate": rate})
}

func (s *Server) handleRetentionRate(w http.ResponseWriter, r *http.Request) {
	siteID, days, ok := s.siteWindow(w, r)
	if !ok {
		return
	}
	start := time.Now()
	rate, err := s.engine.RetentionRate(r.Context(), siteID, days)
	if err != nil {
		s.metricFailure(w, "retention rate", siteID, err)
		return
	}
	s.recordMetricQuery("retention_rate", start)
	s.jsonResponse(w, map[string]any{"site_id": siteID, "retention_rate": rate})
}

func (s *Server) handleFunnel(w http.ResponseWriter, r *http.Request) {
	siteID, days, ok := s.siteWindow(w, r)
	if !ok {
		return
	}
	start := time.Now()
	funnel, err := s.engine.ConversionFunnel(r.Context(), siteID, days)
	if err != nil {
		s.metricFailure(w, "conversion funnel", siteID, err)
		return
	}
	s.recordMetricQuery("funnel", start)
	s.jsonResponse(w, funnel)
}

func (s *Server) handleBehavior(w http.ResponseWriter, r *http.Request) {
	siteID, days, ok := s.siteWindow(w, r)
	if !ok {
		return
	}
	start := time.Now()
	behavior, err := s.engine.UserBehavior(r.Context(), siteID, days)
	if err != nil {
		s.metricFailure(w, "user behavior", siteID, err)
		return
	}
	s.recordMetricQuery("behavior", start)
	s.jsonResponse(w, behavior)
}

// ---- Helpers ----

// parseDate accepts dates as YYYY-MM-DD or RFC 3339.
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
