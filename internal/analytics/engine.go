package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/pulsetrack/pulsetrack/internal/models"
	"github.com/pulsetrack/pulsetrack/internal/storage"
)

// Engine computes aggregate metrics over a trailing window of stored
// events. All computation happens here; the repositories only answer
// counting and listing queries, so the engine works identically over
// Postgres and the in-memory store.
type Engine struct {
	sessions  storage.SessionRepo
	pageViews storage.PageViewRepo
	events    storage.EventRepo
	logger    *zap.Logger

	defaultWindowDays int
	now               func() time.Time
}

// NewEngine creates a metrics engine. defaultWindowDays applies when a
// caller passes days <= 0.
func NewEngine(sessions storage.SessionRepo, pageViews storage.PageViewRepo, events storage.EventRepo, defaultWindowDays int, logger *zap.Logger) *Engine {
	if defaultWindowDays <= 0 {
		defaultWindowDays = 30
	}
	return &Engine{
		sessions:          sessions,
		pageViews:         pageViews,
		events:            events,
		logger:            logger,
		defaultWindowDays: defaultWindowDays,
		now:               time.Now,
	}
}

// SetClock overrides the engine's notion of "now". Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// window resolves a trailing window of the given number of days ending
// at the current instant. The end is anchored in UTC so day boundaries
// line up with stored timestamps regardless of the host timezone.
func (e *Engine) window(days int) (start, end time.Time) {
	if days <= 0 {
		days = e.defaultWindowDays
	}
	end = e.now().UTC()
	start = end.AddDate(0, 0, -days)
	return start, end
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Overview summarizes a site's traffic over the window.
type Overview struct {
	SiteID            string  `json:"site_id"`
	WindowDays        int     `json:"window_days"`
	PageViews         int64   `json:"page_views"`
	UniqueVisitors    int64   `json:"unique_visitors"`
	TotalEvents       int64   `json:"total_events"`
	AvgSessionSeconds float64 `json:"avg_session_seconds"`
}

// Overview returns page view, visitor, event and session duration
// totals for the window.
func (e *Engine) Overview(ctx context.Context, siteID string, days int) (*Overview, error) {
	if days <= 0 {
		days = e.defaultWindowDays
	}
	start, end := e.window(days)

	pageViews, err := e.pageViews.Count(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count page views: %w", err)
	}

	visitors, err := e.sessions.CountDistinctUsers(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count visitors: %w", err)
	}

	totalEvents, err := e.events.Count(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	durations, err := e.sessions.ClosedDurations(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load session durations: %w", err)
	}
	var avgSeconds float64
	if len(durations) > 0 {
		var sum float64
		for _, d := range durations {
			sum += d
		}
		avgSeconds = round2(sum / float64(len(durations)))
	}

	return &Overview{
		SiteID:            siteID,
		WindowDays:        days,
		PageViews:         pageViews,
		UniqueVisitors:    visitors,
		TotalEvents:       totalEvents,
		AvgSessionSeconds: avgSeconds,
	}, nil
}

// EventCounts returns per-name event totals for the window.
func (e *Engine) EventCounts(ctx context.Context, siteID string, days int) (map[string]int64, error) {
	start, end := e.window(days)
	counts, err := e.events.CountByName(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by name: %w", err)
	}
	return counts, nil
}

// PageDay is one day of the page performance series.
type PageDay struct {
	Date       string  `json:"date"`
	PageViews  int64   `json:"pageviews"`
	Clicks     int64   `json:"clicks"`
	BounceRate float64 `json:"bounce_rate"`
}

// PagePerformance returns a per-day series of page views, clicks, and
// a same-day bounce approximation. The series always has one entry per
// day of the window plus today, ascending, zero-filled for days with
// no traffic.
func (e *Engine) PagePerformance(ctx context.Context, siteID string, days int) ([]PageDay, error) {
	if days <= 0 {
		days = e.defaultWindowDays
	}
	start, end := e.window(days)

	viewTimes, err := e.pageViews.Times(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load page view times: %w", err)
	}
	clickTimes, err := e.events.TimesNamed(ctx, siteID, models.EventClick, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load click times: %w", err)
	}

	viewsByDay := bucketByDay(viewTimes)
	clicksByDay := bucketByDay(clickTimes)

	series := make([]PageDay, 0, days+1)
	for i := 0; i <= days; i++ {
		day := end.AddDate(0, 0, -(days - i))
		key := day.Format("2006-01-02")
		pv := viewsByDay[key]
		clicks := clicksByDay[key]
		var bounce float64
		if pv > 0 {
			bounce = round2(float64(pv-clicks) / float64(pv) * 100)
		}
		series = append(series, PageDay{
			Date:       key,
			PageViews:  pv,
			Clicks:     clicks,
			BounceRate: bounce,
		})
	}
	return series, nil
}

// VisitDay is one day of the page visit series.
type VisitDay struct {
	Date   string `json:"date"`
	Visits int64  `json:"visits"`
}

// PageVisits returns a per-day page view count series, one entry per
// day of the window plus today, ascending, zero-filled.
func (e *Engine) PageVisits(ctx context.Context, siteID string, days int) ([]VisitDay, error) {
	if days <= 0 {
		days = e.defaultWindowDays
	}
	start, end := e.window(days)

	viewTimes, err := e.pageViews.Times(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load page view times: %w", err)
	}
	viewsByDay := bucketByDay(viewTimes)

	series := make([]VisitDay, 0, days+1)
	for i := 0; i <= days; i++ {
		day := end.AddDate(0, 0, -(days - i))
		key := day.Format("2006-01-02")
		series = append(series, VisitDay{Date: key, Visits: viewsByDay[key]})
	}
	return series, nil
}

// bucketByDay counts timestamps per UTC calendar day, matching the
// keys the series grid is built from.
func bucketByDay(times []time.Time) map[string]int64 {
	byDay := make(map[string]int64, len(times))
	for _, t := range times {
		byDay[t.UTC().Format("2006-01-02")]++
	}
	return byDay
}

// ClickRate returns click events as a percentage of pageview events.
// Zero pageviews yields 0.0.
func (e *Engine) ClickRate(ctx context.Context, siteID string, days int) (float64, error) {
	start, end := e.window(days)

	views, err := e.events.CountNamed(ctx, siteID, models.EventPageview, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to count pageview events: %w", err)
	}
	if views == 0 {
		return 0, nil
	}
	clicks, err := e.events.CountNamed(ctx, siteID, models.EventClick, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to count click events: %w", err)
	}
	return round2(float64(clicks) / float64(views) * 100), nil
}

// bounceThreshold is the maximum event span of a session still counted
// as a bounce.
const bounceThreshold = 10 * time.Second

// BounceRate returns the percentage of sessions whose events span
// strictly less than ten seconds. Sessions are derived from events,
// not from the sessions table, so a session with a single event always
// counts as bounced.
func (e *Engine) BounceRate(ctx context.Context, siteID string, days int) (float64, error) {
	start, end := e.window(days)

	spans, err := e.events.SessionSpans(ctx, siteID, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to load session spans: %w", err)
	}
	if len(spans) == 0 {
		return 0, nil
	}

	var bounced int
	for _, span := range spans {
		if span.Last.Sub(span.First) < bounceThreshold {
			bounced++
		}
	}
	return round2(float64(bounced) / float64(len(spans)) * 100), nil
}

// ConversionRate returns conversion events as a percentage of distinct
// sessions that produced any event. Zero sessions yields 0.0.
func (e *Engine) ConversionRate(ctx context.Context, siteID string, days int) (float64, error) {
	start, end := e.window(days)

	sessions, err := e.events.DistinctSessionCount(ctx, siteID, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to count event sessions: %w", err)
	}
	if sessions == 0 {
		return 0, nil
	}
	conversions, err := e.events.CountNamed(ctx, siteID, models.EventConversion, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to count conversion events: %w", err)
	}
	return round2(float64(conversions) / float64(sessions) * 100), nil
}

// retentionGap is the minimum time after a user's first event before a
// later event counts as a return visit.
const retentionGap = 24 * time.Hour

// RetentionRate returns the percentage of users with at least one
// event strictly more than 24 hours after their first event in the
// window. Zero users yields 0.0.
func (e *Engine) RetentionRate(ctx context.Context, siteID string, days int) (float64, error) {
	start, end := e.window(days)

	users, err := e.events.DistinctUserIDs(ctx, siteID, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to list event users: %w", err)
	}
	if len(users) == 0 {
		return 0, nil
	}

	var retained int
	for _, userID := range users {
		times, err := e.events.UserEventTimes(ctx, siteID, userID, start, end)
		if err != nil {
			return 0, fmt.Errorf("failed to load event times for user %s: %w", userID, err)
		}
		if len(times) < 2 {
			continue
		}
		cutoff := times[0].Add(retentionGap)
		for _, t := range times[1:] {
			if t.After(cutoff) {
				retained++
				break
			}
		}
	}
	return round2(float64(retained) / float64(len(users)) * 100), nil
}

// UserBehavior summarizes session-level engagement for the window.
// Its bounce rate comes from the session metadata flag set by the
// tracker, unlike BounceRate's event-span rule.
type UserBehavior struct {
	SiteID            string  `json:"site_id"`
	TotalSessions     int64   `json:"total_sessions"`
	AvgSessionMinutes float64 `json:"avg_session_minutes"`
	BounceRate        float64 `json:"bounce_rate"`
	PagesPerSession   float64 `json:"pages_per_session"`
}

// UserBehavior computes session count, average closed-session length,
// metadata-flag bounce rate and pages per session.
func (e *Engine) UserBehavior(ctx context.Context, siteID string, days int) (*UserBehavior, error) {
	start, end := e.window(days)

	sessions, err := e.sessions.ListBySite(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	behavior := &UserBehavior{SiteID: siteID, TotalSessions: int64(len(sessions))}
	if len(sessions) == 0 {
		return behavior, nil
	}

	var bounced int
	sessionIDs := make([]string, 0, len(sessions))
	for _, s := range sessions {
		sessionIDs = append(sessionIDs, s.ID)
		if s.Metadata.GetBool("bounce") {
			bounced++
		}
	}
	behavior.BounceRate = round2(float64(bounced) / float64(len(sessions)) * 100)

	durations, err := e.sessions.ClosedDurations(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load session durations: %w", err)
	}
	if len(durations) > 0 {
		var sum float64
		for _, d := range durations {
			sum += d
		}
		behavior.AvgSessionMinutes = round2(sum / float64(len(durations)) / 60)
	}

	pages, err := e.pageViews.CountBySessions(ctx, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count session page views: %w", err)
	}
	behavior.PagesPerSession = round2(float64(pages) / float64(len(sessions)))

	return behavior, nil
}

// RateSnapshot bundles the three live-pushed rates.
type RateSnapshot struct {
	SiteID         string  `json:"site_id"`
	BounceRate     float64 `json:"bounce_rate"`
	ConversionRate float64 `json:"conversion_rate"`
	RetentionRate  float64 `json:"retention_rate"`
}

// RateSnapshot computes the bounce, conversion and retention rates in
// one call. The broadcast hub pushes this to live dashboards.
func (e *Engine) RateSnapshot(ctx context.Context, siteID string, days int) (*RateSnapshot, error) {
	bounce, err := e.BounceRate(ctx, siteID, days)
	if err != nil {
		return nil, err
	}
	conversion, err := e.ConversionRate(ctx, siteID, days)
	if err != nil {
		return nil, err
	}
	retention, err := e.RetentionRate(ctx, siteID, days)
	if err != nil {
		return nil, err
	}
	return &RateSnapshot{
		SiteID:         siteID,
		BounceRate:     bounce,
		ConversionRate: conversion,
		RetentionRate:  retention,
	}, nil
}
