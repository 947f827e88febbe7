package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Site is a tracked property. Domains are unique within the scope of
// the owning user; a site is created explicitly via registration or
// implicitly on the first event carrying an unseen domain.
type Site struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Domain    string    `json:"domain"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the site has the minimum required fields.
func (s *Site) Validate() error {
	if s.Domain == "" {
		return errors.New("site domain is required")
	}
	return nil
}

// Session is a bounded interval of visitor activity on a site.
// EndedAt stays nil while the session is open; closing it is driven
// by the client (inactivity or explicit signal).
type Session struct {
	ID        string     `json:"id"`
	SiteID    string     `json:"site_id"`
	UserID    string     `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	IPAddress string     `json:"ip_address,omitempty"`
	Metadata  Properties `json:"metadata,omitempty"`
}

// Duration returns the session length, or 0 for a session that is
// still open.
func (s *Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// PageView is one page load. Immutable once created.
type PageView struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	SessionID string    `json:"session_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Referrer  string    `json:"referrer,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Well-known event names used by the metrics engine.
const (
	EventPageview      = "pageview"
	EventClick         = "click"
	EventConversion    = "conversion"
	EventProductView   = "product_view"
	EventAddToCart     = "add_to_cart"
	EventCheckoutStart = "checkout_start"
	EventPurchase      = "purchase"
)

// Event is one named interaction with a free-form property bag.
// Immutable once created. Geo fields are populated at ingest when
// geo enrichment is enabled.
type Event struct {
	ID         string     `json:"id"`
	SiteID     string     `json:"site_id"`
	SessionID  string     `json:"session_id,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	Name       string     `json:"name"`
	Properties Properties `json:"properties,omitempty"`
	URL        string     `json:"url,omitempty"`
	Referrer   string     `json:"referrer,omitempty"`
	Country    string     `json:"country,omitempty"`
	Region     string     `json:"region,omitempty"`
	City       string     `json:"city,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	IPAddress  string     `json:"ip_address,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Validate checks that the event has the minimum required fields.
func (e *Event) Validate() error {
	if e.SiteID == "" {
		return errors.New("event site_id is required")
	}
	if e.Name == "" {
		return errors.New("event name is required")
	}
	return nil
}

// Properties is a free-form bag of scalar or structured values
// attached to events and sessions. Typed accessors avoid scattering
// type assertions through callers.
type Properties map[string]any

// GetString returns the string value for key, or "" if absent or not
// a string.
func (p Properties) GetString(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// GetBool returns the bool value for key, or false if absent or not
// a bool.
func (p Properties) GetBool(key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}

// GetFloat returns the numeric value for key as a float64. JSON
// decoding yields float64 for all numbers, but int is accepted too.
func (p Properties) GetFloat(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// JSON encodes the properties as a JSON object string. An empty bag
// encodes as "{}".
func (p Properties) JSON() (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EventFilter narrows event listings. Zero values mean "no filter".
type EventFilter struct {
	SiteID    string
	SessionID string
	UserID    string
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
