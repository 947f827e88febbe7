package analytics_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsetrack/pulsetrack/internal/analytics"
	"github.com/pulsetrack/pulsetrack/internal/models"
	"github.com/pulsetrack/pulsetrack/internal/storage"
)

var testNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

const testSite = "site-1"

func newFixture() (*storage.MemoryStore, *analytics.Engine) {
	store := storage.NewMemoryStore()
	engine := analytics.NewEngine(
		storage.NewMemorySessionRepo(store),
		storage.NewMemoryPageViewRepo(store),
		storage.NewMemoryEventRepo(store),
		30,
		zap.NewNop(),
	)
	engine.SetClock(func() time.Time { return testNow })
	return store, engine
}

func addEvent(t *testing.T, store *storage.MemoryStore, sessionID, userID, name string, ts time.Time) {
	t.Helper()
	err := store.CreateEvent(context.Background(), &models.Event{
		ID:        fmt.Sprintf("ev-%s-%s-%d", sessionID, name, ts.UnixNano()),
		SiteID:    testSite,
		SessionID: sessionID,
		UserID:    userID,
		Name:      name,
		Timestamp: ts,
	})
	require.NoError(t, err)
}

func addPageView(t *testing.T, store *storage.MemoryStore, sessionID string, ts time.Time) {
	t.Helper()
	err := store.CreatePageView(context.Background(), &models.PageView{
		ID:        fmt.Sprintf("pv-%s-%d", sessionID, ts.UnixNano()),
		SiteID:    testSite,
		SessionID: sessionID,
		Timestamp: ts,
	})
	require.NoError(t, err)
}

func TestRatesZeroWhenEmpty(t *testing.T) {
	_, engine := newFixture()
	ctx := context.Background()

	rate, err := engine.ClickRate(ctx, testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rate)

	rate, err = engine.BounceRate(ctx, testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rate)

	rate, err = engine.ConversionRate(ctx, testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rate)

	rate, err = engine.RetentionRate(ctx, testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rate)
}

func TestClickRate(t *testing.T) {
	store, engine := newFixture()

	for i := 0; i < 5; i++ {
		addEvent(t, store, "s1", "u1", models.EventPageview, testNow.Add(-time.Duration(i)*time.Hour))
	}
	addEvent(t, store, "s1", "u1", models.EventClick, testNow.Add(-time.Hour))
	addEvent(t, store, "s2", "u2", models.EventClick, testNow.Add(-2*time.Hour))

	rate, err := engine.ClickRate(context.Background(), testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, 40.0, rate)
}

func TestBounceRateStrictBoundary(t *testing.T) {
	store, engine := newFixture()
	base := testNow.Add(-time.Hour)

	// Span just under ten seconds bounces.
	addEvent(t, store, "bounced", "u1", models.EventPageview, base)
	addEvent(t, store, "bounced", "u1", models.EventClick, base.Add(9999*time.Millisecond))

	// A span of exactly ten seconds does not.
	addEvent(t, store, "stayed", "u2", models.EventPageview, base)
	addEvent(t, store, "stayed", "u2", models.EventClick, base.Add(10*time.Second))

	rate, err := engine.BounceRate(context.Background(), testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, 50.0, rate)
}

func TestBounceRateSingleEventSessionBounces(t *testing.T) {
	store, engine := newFixture()
	addEvent(t, store, "s1", "u1", models.EventPageview, testNow.Add(-time.Hour))

	rate, err := engine.BounceRate(context.Background(), testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rate)
}

func TestConversionRate(t *testing.T) {
	store, engine := newFixture()
	base := testNow.Add(-time.Hour)

	addEvent(t, store, "s1", "u1", models.EventPageview, base)
	addEvent(t, store, "s2", "u2", models.EventPageview, base)
	addEvent(t, store, "s3", "u3", models.EventPageview, base)
	addEvent(t, store, "s4", "u4", models.EventPageview, base)
	addEvent(t, store, "s1", "u1", models.EventConversion, base.Add(time.Minute))

	rate, err := engine.ConversionRate(context.Background(), testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, 25.0, rate)
}

func TestRetentionRateStrictBoundary(t *testing.T) {
	store, engine := newFixture()
	base := testNow.Add(-5 * 24 * time.Hour)

	// Exactly 24 hours apart is not a return visit.
	addEvent(t, store, "s1", "borderline", models.EventPageview, base)
	addEvent(t, store, "s2", "borderline", models.EventPageview, base.Add(24*time.Hour))

	// One second past 24 hours is.
	addEvent(t, store, "s3", "returned", models.EventPageview, base)
	addEvent(t, store, "s4", "returned", models.EventPageview, base.Add(24*time.Hour+time.Second))

	rate, err := engine.RetentionRate(context.Background(), testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, 50.0, rate)
}

func TestRetentionRateSingleEventUserNotRetained(t *testing.T) {
	store, engine := newFixture()
	addEvent(t, store, "s1", "u1", models.EventPageview, testNow.Add(-time.Hour))

	rate, err := engine.RetentionRate(context.Background(), testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rate)
}

func TestPageVisitsSeriesShape(t *testing.T) {
	store, engine := newFixture()

	for i := 0; i < 5; i++ {
		addPageView(t, store, "s1", testNow.Add(-time.Duration(i)*time.Minute))
	}

	series, err := engine.PageVisits(context.Background(), testSite, 7)
	require.NoError(t, err)
	require.Len(t, series, 8)

	seen := make(map[string]bool)
	for i, day := range series {
		assert.False(t, seen[day.Date], "duplicate date %s", day.Date)
		seen[day.Date] = true
		if i > 0 {
			assert.Greater(t, day.Date, series[i-1].Date)
		}
	}

	today := testNow.Format("2006-01-02")
	assert.Equal(t, today, series[7].Date)
	assert.Equal(t, int64(5), series[7].Visits)
	for _, day := range series[:7] {
		assert.Equal(t, int64(0), day.Visits)
	}
}

func TestPagePerformanceSeries(t *testing.T) {
	store, engine := newFixture()

	// Four page views and one click today.
	for i := 0; i < 4; i++ {
		addPageView(t, store, "s1", testNow.Add(-time.Duration(i)*time.Minute))
	}
	addEvent(t, store, "s1", "u1", models.EventClick, testNow.Add(-time.Minute))

	series, err := engine.PagePerformance(context.Background(), testSite, 7)
	require.NoError(t, err)
	require.Len(t, series, 8)

	today := series[7]
	assert.Equal(t, testNow.Format("2006-01-02"), today.Date)
	assert.Equal(t, int64(4), today.PageViews)
	assert.Equal(t, int64(1), today.Clicks)
	assert.Equal(t, 75.0, today.BounceRate)

	// Days with no traffic are zero-filled, never an error.
	for _, day := range series[:7] {
		assert.Equal(t, int64(0), day.PageViews)
		assert.Equal(t, 0.0, day.BounceRate)
	}
}

func TestConversionFunnel(t *testing.T) {
	store, engine := newFixture()
	base := testNow.Add(-time.Hour)

	// Ten visitor sessions with a page view.
	for i := 0; i < 10; i++ {
		addPageView(t, store, fmt.Sprintf("s%d", i), base)
	}
	for i := 0; i < 6; i++ {
		addEvent(t, store, fmt.Sprintf("s%d", i), "u", models.EventProductView, base)
	}
	for i := 0; i < 3; i++ {
		addEvent(t, store, fmt.Sprintf("s%d", i), "u", models.EventAddToCart, base)
	}
	addEvent(t, store, "s0", "u", models.EventCheckoutStart, base)
	addEvent(t, store, "s0", "u", models.EventPurchase, base)

	funnel, err := engine.ConversionFunnel(context.Background(), testSite, 30)
	require.NoError(t, err)
	require.Len(t, funnel, 5)

	assert.Equal(t, "Visitors", funnel[0].Stage)
	assert.Equal(t, int64(10), funnel[0].Count)
	assert.Equal(t, "100%", funnel[0].Conversion)

	assert.Equal(t, "Product Views", funnel[1].Stage)
	assert.Equal(t, int64(6), funnel[1].Count)
	assert.Equal(t, "60.0%", funnel[1].Conversion)

	assert.Equal(t, "Add to Cart", funnel[2].Stage)
	assert.Equal(t, "30.0%", funnel[2].Conversion)

	assert.Equal(t, "Checkout", funnel[3].Stage)
	assert.Equal(t, "10.0%", funnel[3].Conversion)

	assert.Equal(t, "Purchase", funnel[4].Stage)
	assert.Equal(t, "10.0%", funnel[4].Conversion)
}

func TestConversionFunnelNoVisitors(t *testing.T) {
	store, engine := newFixture()

	// Stage events without any page views must not fault.
	addEvent(t, store, "s1", "u1", models.EventPurchase, testNow.Add(-time.Hour))

	funnel, err := engine.ConversionFunnel(context.Background(), testSite, 30)
	require.NoError(t, err)
	require.Len(t, funnel, 5)

	assert.Equal(t, int64(0), funnel[0].Count)
	for _, stage := range funnel[1:] {
		assert.Equal(t, "0.0%", stage.Conversion)
	}
}

func TestEventCounts(t *testing.T) {
	store, engine := newFixture()
	base := testNow.Add(-time.Hour)

	addEvent(t, store, "s1", "u1", models.EventPageview, base)
	addEvent(t, store, "s1", "u1", models.EventPageview, base.Add(time.Minute))
	addEvent(t, store, "s1", "u1", models.EventClick, base)

	counts, err := engine.EventCounts(context.Background(), testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		models.EventPageview: 2,
		models.EventClick:    1,
	}, counts)
}

func TestEventCountsExcludesOutsideWindow(t *testing.T) {
	store, engine := newFixture()

	addEvent(t, store, "s1", "u1", models.EventClick, testNow.Add(-31*24*time.Hour))
	addEvent(t, store, "s1", "u1", models.EventClick, testNow.Add(-time.Hour))

	counts, err := engine.EventCounts(context.Background(), testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{models.EventClick: 1}, counts)
}

func TestOverview(t *testing.T) {
	store, engine := newFixture()
	ctx := context.Background()
	base := testNow.Add(-2 * time.Hour)

	endedA := base.Add(100 * time.Second)
	endedB := base.Add(200 * time.Second)
	require.NoError(t, store.CreateSession(ctx, &models.Session{
		ID: "s1", SiteID: testSite, UserID: "u1", StartedAt: base, EndedAt: &endedA,
	}))
	require.NoError(t, store.CreateSession(ctx, &models.Session{
		ID: "s2", SiteID: testSite, UserID: "u2", StartedAt: base, EndedAt: &endedB,
	}))
	// Open sessions are excluded from the duration mean, not counted
	// as zero.
	require.NoError(t, store.CreateSession(ctx, &models.Session{
		ID: "s3", SiteID: testSite, UserID: "u1", StartedAt: base,
	}))

	addPageView(t, store, "s1", base)
	addPageView(t, store, "s2", base)
	addPageView(t, store, "s2", base.Add(time.Minute))
	addEvent(t, store, "s1", "u1", models.EventPageview, base)

	overview, err := engine.Overview(ctx, testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(3), overview.PageViews)
	assert.Equal(t, int64(2), overview.UniqueVisitors)
	assert.Equal(t, int64(1), overview.TotalEvents)
	assert.Equal(t, 150.0, overview.AvgSessionSeconds)
}

func TestUserBehavior(t *testing.T) {
	store, engine := newFixture()
	ctx := context.Background()
	base := testNow.Add(-2 * time.Hour)

	ended := base.Add(6 * time.Minute)
	require.NoError(t, store.CreateSession(ctx, &models.Session{
		ID: "s1", SiteID: testSite, UserID: "u1", StartedAt: base, EndedAt: &ended,
		Metadata: models.Properties{"bounce": true},
	}))
	require.NoError(t, store.CreateSession(ctx, &models.Session{
		ID: "s2", SiteID: testSite, UserID: "u2", StartedAt: base,
	}))

	addPageView(t, store, "s1", base)
	addPageView(t, store, "s2", base)
	addPageView(t, store, "s2", base.Add(time.Minute))

	behavior, err := engine.UserBehavior(ctx, testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), behavior.TotalSessions)
	assert.Equal(t, 50.0, behavior.BounceRate)
	assert.Equal(t, 6.0, behavior.AvgSessionMinutes)
	assert.Equal(t, 1.5, behavior.PagesPerSession)
}

func TestUserBehaviorEmpty(t *testing.T) {
	_, engine := newFixture()

	behavior, err := engine.UserBehavior(context.Background(), testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(0), behavior.TotalSessions)
	assert.Equal(t, 0.0, behavior.BounceRate)
	assert.Equal(t, 0.0, behavior.PagesPerSession)
}

func TestRateSnapshot(t *testing.T) {
	store, engine := newFixture()
	base := testNow.Add(-time.Hour)

	// One bounced session and one conversion out of two sessions.
	addEvent(t, store, "s1", "u1", models.EventPageview, base)
	addEvent(t, store, "s2", "u2", models.EventPageview, base)
	addEvent(t, store, "s2", "u2", models.EventClick, base.Add(time.Minute))
	addEvent(t, store, "s1", "u1", models.EventConversion, base.Add(2*time.Second))

	snapshot, err := engine.RateSnapshot(context.Background(), testSite, 30)
	require.NoError(t, err)
	assert.Equal(t, testSite, snapshot.SiteID)
	assert.Equal(t, 50.0, snapshot.BounceRate)
	assert.Equal(t, 50.0, snapshot.ConversionRate)
	assert.Equal(t, 0.0, snapshot.RetentionRate)
}

func TestDaySeriesWithNonUTCClock(t *testing.T) {
	store, engine := newFixture()

	// Host clock in UTC+10: the local calendar date is already May 16
	// while stored rows, written in UTC, still fall on May 15.
	local := time.FixedZone("UTC+10", 10*60*60)
	engine.SetClock(func() time.Time {
		return time.Date(2024, 5, 16, 1, 0, 0, 0, local)
	})

	stored := time.Date(2024, 5, 15, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		addPageView(t, store, fmt.Sprintf("s%d", i), stored)
	}

	series, err := engine.PageVisits(context.Background(), testSite, 7)
	require.NoError(t, err)
	require.Len(t, series, 8)
	assert.Equal(t, "2024-05-15", series[7].Date)
	assert.Equal(t, int64(5), series[7].Visits)

	perf, err := engine.PagePerformance(context.Background(), testSite, 7)
	require.NoError(t, err)
	require.Len(t, perf, 8)
	assert.Equal(t, "2024-05-15", perf[7].Date)
	assert.Equal(t, int64(5), perf[7].PageViews)
}
