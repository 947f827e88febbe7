package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tracker.
type Metrics struct {
	// Ingest metrics
	EventsIngested  *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	PageViews       *prometheus.CounterVec
	SessionsStarted *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec

	// Query metrics
	MetricQueries      *prometheus.CounterVec
	MetricQueryLatency *prometheus.HistogramVec
	CacheHits          *prometheus.CounterVec

	// Live channel metrics
	LiveConnections    prometheus.Gauge
	LiveClicks         *prometheus.CounterVec
	LiveMessagesSent   *prometheus.CounterVec
	LiveSendFailures   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests      *prometheus.CounterVec
	HTTPLatency       *prometheus.HistogramVec
	RateLimitHits     *prometheus.CounterVec

	// System metrics
	TrackedSites  prometheus.Gauge
	DBConnections *prometheus.GaugeVec
	ArchiveDepth  prometheus.Gauge

	// Geo metrics
	GeoLookupLatency *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		EventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Total number of events accepted",
			},
			[]string{"site_id", "name"},
		),
		EventsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_rejected_total",
				Help:      "Total number of events rejected",
			},
			[]string{"reason"},
		),
		PageViews: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "page_views_total",
				Help:      "Total number of page views recorded",
			},
			[]string{"site_id"},
		),
		SessionsStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Total number of sessions created",
			},
			[]string{"site_id"},
		),
		SessionsEnded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_ended_total",
				Help:      "Total number of sessions closed",
			},
			[]string{"site_id"},
		),
		MetricQueries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metric_queries_total",
				Help:      "Total number of metric computations served",
			},
			[]string{"metric"},
		),
		MetricQueryLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "metric_query_duration_seconds",
				Help:      "Metric computation latency",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"metric"},
		),
		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Response cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		LiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_connections",
				Help:      "Currently open live dashboard connections",
			},
		),
		LiveClicks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_clicks_total",
				Help:      "Clicks recorded through the live channel",
			},
			[]string{"site_id"},
		),
		LiveMessagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_messages_sent_total",
				Help:      "Messages pushed to live connections",
			},
			[]string{"type"},
		),
		LiveSendFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_send_failures_total",
				Help:      "Live deliveries dropped or failed",
			},
			[]string{"reason"},
		),
		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by path, method and status",
			},
			[]string{"path", "method", "status"},
		),
		HTTPLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"path", "method"},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),
		TrackedSites: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_sites",
				Help:      "Number of registered sites",
			},
		),
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool state",
			},
			[]string{"state"},
		),
		ArchiveDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "archive_buffer_depth",
				Help:      "Events waiting in the archive buffer",
			},
		),
		GeoLookupLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "geo_lookup_duration_seconds",
				Help:      "Geo lookup latency by cache outcome",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05},
			},
			[]string{"cache"},
		),
	}
	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEvent records an accepted event.
func (m *Metrics) RecordEvent(siteID, name string) {
	m.EventsIngested.WithLabelValues(siteID, name).Inc()
}

// RecordRejectedEvent records a rejected event.
func (m *Metrics) RecordRejectedEvent(reason string) {
	m.EventsRejected.WithLabelValues(reason).Inc()
}

// RecordPageView records a stored page view.
func (m *Metrics) RecordPageView(siteID string) {
	m.PageViews.WithLabelValues(siteID).Inc()
}

// RecordSessionStart records a created session.
func (m *Metrics) RecordSessionStart(siteID string) {
	m.SessionsStarted.WithLabelValues(siteID).Inc()
}

// RecordSessionEnd records a closed session.
func (m *Metrics) RecordSessionEnd(siteID string) {
	m.SessionsEnded.WithLabelValues(siteID).Inc()
}

// RecordMetricQuery records one metric computation and its latency.
func (m *Metrics) RecordMetricQuery(metric string, latency time.Duration) {
	m.MetricQueries.WithLabelValues(metric).Inc()
	m.MetricQueryLatency.WithLabelValues(metric).Observe(latency.Seconds())
}

// RecordCacheLookup records a response cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheHits.WithLabelValues(outcome).Inc()
}

// RecordLiveConnect tracks a live connection opening.
func (m *Metrics) RecordLiveConnect() {
	m.LiveConnections.Inc()
}

// RecordLiveDisconnect tracks a live connection closing.
func (m *Metrics) RecordLiveDisconnect() {
	m.LiveConnections.Dec()
}

// RecordLiveClick records a click received over the live channel.
func (m *Metrics) RecordLiveClick(siteID string) {
	m.LiveClicks.WithLabelValues(siteID).Inc()
}

// RecordLiveSend records a pushed live message.
func (m *Metrics) RecordLiveSend(msgType string) {
	m.LiveMessagesSent.WithLabelValues(msgType).Inc()
}

// RecordLiveSendFailure records a dropped live delivery.
func (m *Metrics) RecordLiveSendFailure(reason string) {
	m.LiveSendFailures.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(path, method string, status int, latency time.Duration) {
	m.HTTPRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(path, method).Observe(latency.Seconds())
}

// RecordRateLimitHit records a rate-limited request.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}

// UpdateDBStats updates connection pool gauges.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// UpdateTrackedSites updates the registered site gauge.
func (m *Metrics) UpdateTrackedSites(count int) {
	m.TrackedSites.Set(float64(count))
}

// UpdateArchiveDepth updates the archive buffer gauge.
func (m *Metrics) UpdateArchiveDepth(depth int) {
	m.ArchiveDepth.Set(float64(depth))
}

// RecordGeoLookup records a geo lookup.
func (m *Metrics) RecordGeoLookup(cacheHit bool, latency time.Duration) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	m.GeoLookupLatency.WithLabelValues(cache).Observe(latency.Seconds())
}
