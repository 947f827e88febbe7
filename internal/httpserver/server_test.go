package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsetrack/pulsetrack/internal/config"
	"github.com/pulsetrack/pulsetrack/internal/models"
)

func newTestHandler() http.Handler {
	cfg := &config.Config{}
	cfg.Analytics.DefaultWindowDays = 30
	cfg.Live.Window = 10 * time.Minute
	cfg.Live.PushInterval = 30 * time.Second

	return NewServer(&Dependencies{
		Config: cfg,
		Logger: zap.NewNop(),
	})
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(into))
}

func createSite(t *testing.T, handler http.Handler, domain string) models.Site {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/sites", map[string]string{
		"name":   "Test Site",
		"domain": domain,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var site models.Site
	decode(t, rec, &site)
	require.NotEmpty(t, site.ID)
	return site
}

func TestHealth(t *testing.T) {
	handler := newTestHandler()
	rec := doJSON(t, handler, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateSite(t *testing.T) {
	handler := newTestHandler()
	site := createSite(t, handler, "a.com")
	assert.Equal(t, "a.com", site.Domain)

	rec := doJSON(t, handler, http.MethodGet, "/sites/"+site.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSiteDuplicateDomain(t *testing.T) {
	handler := newTestHandler()
	createSite(t, handler, "a.com")

	rec := doJSON(t, handler, http.MethodPost, "/sites", map[string]string{"domain": "a.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateSiteInvalidBody(t *testing.T) {
	handler := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/sites", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/sites", map[string]string{"name": "no domain"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSiteNotFound(t *testing.T) {
	handler := newTestHandler()
	rec := doJSON(t, handler, http.MethodGet, "/sites/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSiteCascades(t *testing.T) {
	handler := newTestHandler()
	site := createSite(t, handler, "a.com")

	rec := doJSON(t, handler, http.MethodPost, "/events", map[string]any{
		"site_id": site.ID,
		"name":    "pageview",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodDelete, "/sites/"+site.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/sites/"+site.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/events?site_id="+site.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.Event
	decode(t, rec, &events)
	assert.Empty(t, events)
}

func TestDeleteSiteNotFound(t *testing.T) {
	handler := newTestHandler()
	rec := doJSON(t, handler, http.MethodDelete, "/sites/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateEventUnknownSite(t *testing.T) {
	handler := newTestHandler()
	rec := doJSON(t, handler, http.MethodPost, "/events", map[string]any{
		"site_id": "nope",
		"name":    "pageview",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateEventMissingName(t *testing.T) {
	handler := newTestHandler()
	site := createSite(t, handler, "a.com")

	rec := doJSON(t, handler, http.MethodPost, "/events", map[string]any{
		"site_id": site.ID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEventsFilters(t *testing.T) {
	handler := newTestHandler()
	site := createSite(t, handler, "a.com")

	for _, name := range []string{"pageview", "pageview", "click"} {
		rec := doJSON(t, handler, http.MethodPost, "/events", map[string]any{
			"site_id":    site.ID,
			"session_id": "s1",
			"name":       name,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, handler, http.MethodGet, "/events?site_id="+site.ID+"&event_type=pageview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.Event
	decode(t, rec, &events)
	assert.Len(t, events, 2)

	rec = doJSON(t, handler, http.MethodGet, "/events?site_id="+site.ID+"&start_date=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClickRateEndToEnd(t *testing.T) {
	handler := newTestHandler()
	site := createSite(t, handler, "a.com")

	for i := 0; i < 5; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/events", map[string]any{
			"site_id":    site.ID,
			"session_id": fmt.Sprintf("s%d", i),
			"name":       "pageview",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	for i := 0; i < 2; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/events", map[string]any{
			"site_id":    site.ID,
			"session_id": fmt.Sprintf("s%d", i),
			"name":       "click",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, handler, http.MethodGet, "/click-rate?site_id="+site.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, 40.0, body["click_rate"])

	// Pageview events also produced page view rows for today.
	rec = doJSON(t, handler, http.MethodGet, "/page-visits?site_id="+site.ID+"&days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var series []map[string]any
	decode(t, rec, &series)
	require.Len(t, series, 8)
	assert.Equal(t, 5.0, series[7]["visits"])
}

func TestEventCountsEndpoint(t *testing.T) {
	handler := newTestHandler()
	site := createSite(t, handler, "a.com")

	rec := doJSON(t, handler, http.MethodPost, "/events", map[string]any{
		"site_id": site.ID,
		"name":    "purchase",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/events/counts?site_id="+site.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var counts map[string]int64
	decode(t, rec, &counts)
	assert.Equal(t, int64(1), counts["purchase"])
}

func TestMetricQueryValidation(t *testing.T) {
	handler := newTestHandler()

	rec := doJSON(t, handler, http.MethodGet, "/overview", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/overview?site_id=nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	site := createSite(t, handler, "a.com")
	rec = doJSON(t, handler, http.MethodGet, "/overview?site_id="+site.ID+"&days=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/overview?site_id="+site.ID, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFunnelEndpoint(t *testing.T) {
	handler := newTestHandler()
	site := createSite(t, handler, "a.com")

	rec := doJSON(t, handler, http.MethodGet, "/funnel?site_id="+site.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var funnel []map[string]any
	decode(t, rec, &funnel)
	require.Len(t, funnel, 5)
	assert.Equal(t, "Visitors", funnel[0]["stage"])
	assert.Equal(t, "100%", funnel[0]["conversion"])
	assert.Equal(t, "0.0%", funnel[4]["conversion"])
}

func TestSessionLifecycle(t *testing.T) {
	handler := newTestHandler()
	site := createSite(t, handler, "a.com")

	rec := doJSON(t, handler, http.MethodPost, "/sessions", map[string]any{
		"site_id": site.ID,
		"user_id": "u1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var session models.Session
	decode(t, rec, &session)
	require.NotEmpty(t, session.ID)
	assert.Nil(t, session.EndedAt)

	rec = doJSON(t, handler, http.MethodPost, "/sessions/"+session.ID+"/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ended models.Session
	decode(t, rec, &ended)
	require.NotNil(t, ended.EndedAt)
	assert.False(t, ended.EndedAt.Before(ended.StartedAt))
}

func TestEndSessionNotFound(t *testing.T) {
	handler := newTestHandler()
	rec := doJSON(t, handler, http.MethodPost, "/sessions/nope/end", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSessionUnknownSite(t *testing.T) {
	handler := newTestHandler()
	rec := doJSON(t, handler, http.MethodPost, "/sessions", map[string]any{
		"site_id": "nope",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOverviewEndpoint(t *testing.T) {
	handler := newTestHandler()
	site := createSite(t, handler, "a.com")

	rec := doJSON(t, handler, http.MethodPost, "/events", map[string]any{
		"site_id":    site.ID,
		"session_id": "s1",
		"name":       "pageview",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/overview?site_id="+site.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, 1.0, body["page_views"])
	assert.Equal(t, 1.0, body["total_events"])
}
