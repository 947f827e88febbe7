package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsetrack/pulsetrack/internal/analytics"
	"github.com/pulsetrack/pulsetrack/internal/metrics"
)

// RateSource supplies the periodic metric snapshot pushed to live
// dashboards. The analytics engine implements it.
type RateSource interface {
	RateSnapshot(ctx context.Context, siteID string, days int) (*analytics.RateSnapshot, error)
}

// Envelope is the wire format for every outbound live message.
type Envelope struct {
	Type      string `json:"type"`
	ClientID  string `json:"client_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

func newEnvelope(msgType string) Envelope {
	return Envelope{Type: msgType, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// Hub tracks live dashboard connections per site and pushes snapshots
// to them. All registry access is serialized through the mutex since
// connects, disconnects and broadcasts arrive from concurrent
// handlers.
type Hub struct {
	mu    sync.Mutex
	sites map[string]map[*Client]struct{}

	clicks  *ClickAggregator
	rates   RateSource
	logger  *zap.Logger
	metrics *metrics.Metrics

	pushInterval time.Duration
	pushCancels  map[string]context.CancelFunc
}

// NewHub creates a hub. rates may be nil, in which case the periodic
// metric push is disabled and only click updates flow.
func NewHub(clicks *ClickAggregator, rates RateSource, pushInterval time.Duration, logger *zap.Logger) *Hub {
	if pushInterval <= 0 {
		pushInterval = 30 * time.Second
	}
	return &Hub{
		sites:        make(map[string]map[*Client]struct{}),
		clicks:       clicks,
		rates:        rates,
		logger:       logger,
		pushInterval: pushInterval,
		pushCancels:  make(map[string]context.CancelFunc),
	}
}

// SetMetrics attaches Prometheus instrumentation to deliveries.
func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// Clicks exposes the aggregator backing this hub.
func (h *Hub) Clicks() *ClickAggregator {
	return h.clicks
}

// SiteConnections reports how many connections are registered for a
// site.
func (h *Hub) SiteConnections(siteID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sites[siteID])
}

// Connect registers a client under its site. Registering an already
// registered client is a no-op. The first connection for a site starts
// that site's periodic metric push.
func (h *Hub) Connect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sites[c.SiteID]
	if !ok {
		set = make(map[*Client]struct{})
		h.sites[c.SiteID] = set
		if c.SiteID != "" && h.rates != nil {
			ctx, cancel := context.WithCancel(context.Background())
			h.pushCancels[c.SiteID] = cancel
			go h.pushLoop(ctx, c.SiteID)
		}
	}
	set[c] = struct{}{}

	h.logger.Info("live client connected",
		zap.String("client_id", c.ID),
		zap.String("site_id", c.SiteID),
		zap.Int("site_connections", len(set)))
}

// Disconnect removes a client from the registry and closes its send
// channel. Removing an unknown client is a no-op. When a site's last
// connection leaves, the site entry and its push loop are torn down.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sites[c.SiteID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)

	if len(set) == 0 {
		delete(h.sites, c.SiteID)
		if cancel, ok := h.pushCancels[c.SiteID]; ok {
			cancel()
			delete(h.pushCancels, c.SiteID)
		}
	}

	h.logger.Info("live client disconnected",
		zap.String("client_id", c.ID),
		zap.String("site_id", c.SiteID),
		zap.Int("site_connections", len(set)))
}

// SendToSite delivers a message to every connection registered for the
// site. Sending to an unknown site is a no-op. A connection whose send
// buffer is full is skipped so one slow client cannot stall the rest.
func (h *Hub) SendToSite(siteID string, msg Envelope) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode live message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.sites[siteID] {
		h.deliver(c, payload, msg.Type)
	}
}

// Broadcast delivers a message to every connection across all sites.
func (h *Hub) Broadcast(msg Envelope) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode live message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.sites {
		for c := range set {
			h.deliver(c, payload, msg.Type)
		}
	}
}

// BroadcastExcept delivers a message to every connection except one,
// so a sender does not hear its own message echoed back.
func (h *Hub) BroadcastExcept(msg Envelope, exclude *Client) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode live message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.sites {
		for c := range set {
			if c == exclude {
				continue
			}
			h.deliver(c, payload, msg.Type)
		}
	}
}

// deliver hands a payload to one client. Callers hold h.mu.
func (h *Hub) deliver(c *Client, payload []byte, msgType string) {
	select {
	case c.send <- payload:
		if h.metrics != nil {
			h.metrics.RecordLiveSend(msgType)
		}
	default:
		if h.metrics != nil {
			h.metrics.RecordLiveSendFailure("buffer_full")
		}
		h.logger.Warn("live client send buffer full, dropping message",
			zap.String("client_id", c.ID),
			zap.String("site_id", c.SiteID))
	}
}

// RecordClick records a click for the site and broadcasts the updated
// series to the site's connections.
func (h *Hub) RecordClick(siteID string) {
	series := h.clicks.RecordClick(siteID)

	msg := newEnvelope("analytics_update")
	msg.Data = series
	h.SendToSite(siteID, msg)
}

// pushLoop periodically queries the metric rates for one site and
// pushes the snapshot to its connections. It exits when the site's
// last connection disconnects.
func (h *Hub) pushLoop(ctx context.Context, siteID string) {
	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := h.rates.RateSnapshot(ctx, siteID, 0)
			if err != nil {
				h.logger.Error("failed to compute live metric snapshot",
					zap.String("site_id", siteID),
					zap.Error(err))
				continue
			}
			msg := newEnvelope("metrics_update")
			msg.Data = snapshot
			h.SendToSite(siteID, msg)
		}
	}
}
