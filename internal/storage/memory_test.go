package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsetrack/pulsetrack/internal/models"
)

var baseTime = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func newSite(id string) *models.Site {
	return &models.Site{ID: id, Name: "Site " + id, Domain: id + ".com", CreatedAt: baseTime}
}

func TestSiteCRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newSite("s1")))

	got, err := store.GetByID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1.com", got.Domain)

	got, err = store.GetByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.GetByDomain(ctx, "", "s1.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.ID)

	require.NoError(t, store.Delete(ctx, "s1"))
	assert.ErrorIs(t, store.Delete(ctx, "s1"), ErrNotFound)
}

func TestListSitesByUser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := newSite("a")
	a.UserID = "u1"
	b := newSite("b")
	b.UserID = "u2"
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	sites, err := store.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "a", sites[0].ID)

	sites, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, sites, 2)
}

func TestDeleteSiteCascades(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newSite("s1")))
	require.NoError(t, store.CreateSession(ctx, &models.Session{ID: "sess1", SiteID: "s1", StartedAt: baseTime}))
	require.NoError(t, store.CreatePageView(ctx, &models.PageView{ID: "pv1", SiteID: "s1", Timestamp: baseTime}))
	require.NoError(t, store.CreateEvent(ctx, &models.Event{ID: "e1", SiteID: "s1", Name: "click", Timestamp: baseTime}))

	require.NoError(t, store.Delete(ctx, "s1"))

	session, err := store.GetSession(ctx, "sess1")
	require.NoError(t, err)
	assert.Nil(t, session)

	count, err := store.CountPageViews(ctx, "s1", baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)

	events, err := store.ListEvents(ctx, models.EventFilter{SiteID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEndSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, &models.Session{ID: "sess1", SiteID: "s1", StartedAt: baseTime}))

	endedAt := baseTime.Add(5 * time.Minute)
	require.NoError(t, store.EndSession(ctx, "sess1", endedAt))

	session, err := store.GetSession(ctx, "sess1")
	require.NoError(t, err)
	require.NotNil(t, session.EndedAt)
	assert.Equal(t, endedAt, *session.EndedAt)

	// Ending twice or ending an unknown session both fail.
	assert.ErrorIs(t, store.EndSession(ctx, "sess1", endedAt), ErrNotFound)
	assert.ErrorIs(t, store.EndSession(ctx, "missing", endedAt), ErrNotFound)
}

func TestClosedDurations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ended := baseTime.Add(3 * time.Minute)
	require.NoError(t, store.CreateSession(ctx, &models.Session{ID: "closed", SiteID: "s1", StartedAt: baseTime, EndedAt: &ended}))
	require.NoError(t, store.CreateSession(ctx, &models.Session{ID: "open", SiteID: "s1", StartedAt: baseTime}))

	durations, err := store.ClosedDurations(ctx, "s1", baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, durations, 1)
	assert.Equal(t, 180.0, durations[0])
}

func TestListEventsFilterAndOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateEvent(ctx, &models.Event{
			ID:        fmt.Sprintf("e%d", i),
			SiteID:    "s1",
			SessionID: "sess1",
			UserID:    "u1",
			Name:      "pageview",
			Timestamp: baseTime.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.CreateEvent(ctx, &models.Event{
		ID: "other", SiteID: "s2", Name: "click", Timestamp: baseTime,
	}))

	events, err := store.ListEvents(ctx, models.EventFilter{SiteID: "s1"})
	require.NoError(t, err)
	require.Len(t, events, 5)
	// Newest first.
	for i := 1; i < len(events); i++ {
		assert.True(t, !events[i].Timestamp.After(events[i-1].Timestamp))
	}

	events, err = store.ListEvents(ctx, models.EventFilter{SiteID: "s1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e4", events[0].ID)

	events, err = store.ListEvents(ctx, models.EventFilter{Name: "click"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "other", events[0].ID)

	events, err = store.ListEvents(ctx, models.EventFilter{
		SiteID:    "s1",
		StartDate: baseTime.Add(2 * time.Minute),
		EndDate:   baseTime.Add(3 * time.Minute),
	})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestCountEventsByName(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, name := range []string{"pageview", "pageview", "click"} {
		require.NoError(t, store.CreateEvent(ctx, &models.Event{
			ID: fmt.Sprintf("e%d", i), SiteID: "s1", Name: name, Timestamp: baseTime,
		}))
	}

	counts, err := store.CountEventsByName(ctx, "s1", baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["pageview"])
	assert.Equal(t, int64(1), counts["click"])
}

func TestSessionSpans(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Two events for sess1 a minute apart, one event for sess2.
	require.NoError(t, store.CreateEvent(ctx, &models.Event{
		ID: "e1", SiteID: "s1", SessionID: "sess1", Name: "pageview", Timestamp: baseTime,
	}))
	require.NoError(t, store.CreateEvent(ctx, &models.Event{
		ID: "e2", SiteID: "s1", SessionID: "sess1", Name: "click", Timestamp: baseTime.Add(time.Minute),
	}))
	require.NoError(t, store.CreateEvent(ctx, &models.Event{
		ID: "e3", SiteID: "s1", SessionID: "sess2", Name: "pageview", Timestamp: baseTime,
	}))

	spans, err := store.SessionSpans(ctx, "s1", baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, spans, 2)

	bySession := make(map[string]SessionSpan, len(spans))
	for _, span := range spans {
		bySession[span.SessionID] = span
	}
	assert.Equal(t, time.Minute, bySession["sess1"].Last.Sub(bySession["sess1"].First))
	assert.Equal(t, time.Duration(0), bySession["sess2"].Last.Sub(bySession["sess2"].First))
}

func TestDistinctUserIDsAndEventTimes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	times := []time.Time{baseTime.Add(time.Hour), baseTime, baseTime.Add(2 * time.Hour)}
	for i, ts := range times {
		require.NoError(t, store.CreateEvent(ctx, &models.Event{
			ID: fmt.Sprintf("e%d", i), SiteID: "s1", UserID: "u1", Name: "pageview", Timestamp: ts,
		}))
	}
	require.NoError(t, store.CreateEvent(ctx, &models.Event{
		ID: "anon", SiteID: "s1", Name: "pageview", Timestamp: baseTime,
	}))

	users, err := store.DistinctUserIDs(ctx, "s1", baseTime.Add(-time.Hour), baseTime.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)

	userTimes, err := store.UserEventTimes(ctx, "s1", "u1", baseTime.Add(-time.Hour), baseTime.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, userTimes, 3)
	// Ascending.
	assert.Equal(t, baseTime, userTimes[0])
	assert.Equal(t, baseTime.Add(2*time.Hour), userTimes[2])
}

func TestDistinctPageViewSessions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, sid := range []string{"sess1", "sess1", "sess2", ""} {
		require.NoError(t, store.CreatePageView(ctx, &models.PageView{
			ID: fmt.Sprintf("pv%d", i), SiteID: "s1", SessionID: sid, Timestamp: baseTime,
		}))
	}

	count, err := store.DistinctPageViewSessions(ctx, "s1", baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStoredRecordsAreCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	site := newSite("s1")
	require.NoError(t, store.Create(ctx, site))
	site.Name = "mutated"

	got, err := store.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Site s1", got.Name)

	got.Domain = "mutated.com"
	again, err := store.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1.com", again.Domain)
}
