package live

import (
	"sort"
	"sync"
	"time"
)

// defaultClickWindow bounds how far back the live series reaches when
// no window is configured.
const defaultClickWindow = 10 * time.Minute

// ClickBucket is one point of the live click series.
type ClickBucket struct {
	Time   string `json:"time"`
	Clicks int64  `json:"clicks"`
}

// ClickAggregator keeps a rolling in-memory click count series per
// site for live dashboards. Buckets are keyed by wall-clock second
// ("HH:MM:SS") and evicted once they fall outside the window. State is
// process-local; the durable store remains the source of truth for
// historical queries.
type ClickAggregator struct {
	mu     sync.Mutex
	sites  map[string]map[string]*clickEntry
	window time.Duration

	now func() time.Time
}

type clickEntry struct {
	at     time.Time
	clicks int64
}

// NewClickAggregator creates an empty aggregator using wall-clock
// time. A non-positive window falls back to ten minutes.
func NewClickAggregator(window time.Duration) *ClickAggregator {
	if window <= 0 {
		window = defaultClickWindow
	}
	return &ClickAggregator{
		sites:  make(map[string]map[string]*clickEntry),
		window: window,
		now:    time.Now,
	}
}

// SetClock overrides the aggregator's clock. Used by tests.
func (a *ClickAggregator) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// RecordClick increments the current second's bucket for the site and
// returns the full series for the live window, sorted ascending by
// bucket key. The first click for a site seeds the window with empty
// per-minute buckets so the initial chart spans the full horizon.
func (a *ClickAggregator) RecordClick(siteID string) []ClickBucket {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()

	buckets, ok := a.sites[siteID]
	if !ok {
		buckets = make(map[string]*clickEntry)
		a.sites[siteID] = buckets
		// Seed one empty bucket per minute of the window so the
		// chart is not a single point.
		for minutes := int(a.window / time.Minute); minutes >= 1; minutes-- {
			at := now.Add(-time.Duration(minutes) * time.Minute)
			buckets[at.Format("15:04:05")] = &clickEntry{at: at}
		}
	}

	key := now.Format("15:04:05")
	if entry, ok := buckets[key]; ok {
		entry.clicks++
		entry.at = now
	} else {
		buckets[key] = &clickEntry{at: now, clicks: 1}
	}

	a.evict(buckets, now)
	return a.series(buckets)
}

// Series returns the current series for a site without recording a
// click. Sites with no recorded clicks return a single zero bucket for
// the current second.
func (a *ClickAggregator) Series(siteID string) []ClickBucket {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	buckets, ok := a.sites[siteID]
	if !ok {
		return []ClickBucket{{Time: now.Format("15:04:05"), Clicks: 0}}
	}
	a.evict(buckets, now)
	return a.series(buckets)
}

func (a *ClickAggregator) evict(buckets map[string]*clickEntry, now time.Time) {
	cutoff := now.Add(-a.window)
	for key, entry := range buckets {
		if entry.at.Before(cutoff) {
			delete(buckets, key)
		}
	}
}

func (a *ClickAggregator) series(buckets map[string]*clickEntry) []ClickBucket {
	out := make([]ClickBucket, 0, len(buckets))
	for key, entry := range buckets {
		out = append(out, ClickBucket{Time: key, Clicks: entry.clicks})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}
