package geo

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"

	"github.com/pulsetrack/pulsetrack/internal/metrics"
)

// Info holds the location attributes attached to ingested events.
type Info struct {
	Country     string
	CountryCode string
	Region      string
	City        string
}

// Provider resolves an IP address to a location.
type Provider interface {
	Lookup(ip string) (*Info, error)
	Close() error
}

// MaxMindProvider implements Provider using a MaxMind GeoLite2 City
// database.
type MaxMindProvider struct {
	reader *geoip2.Reader
}

// NewMaxMindProvider opens the database at dbPath.
func NewMaxMindProvider(dbPath string) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

// Lookup returns location information for an IP address.
func (m *MaxMindProvider) Lookup(ip string) (*Info, error) {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ip)
	}

	record, err := m.reader.City(parsedIP)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Country:     record.Country.Names["en"],
		CountryCode: record.Country.IsoCode,
		City:        record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		info.Region = record.Subdivisions[0].Names["en"]
	}
	return info, nil
}

// Close closes the GeoIP database.
func (m *MaxMindProvider) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}

// Resolver wraps a Provider with a TTL cache so repeated events from
// the same visitor IP don't hit the database reader every time.
type Resolver struct {
	provider Provider
	cache    *lookupCache
	metrics  *metrics.Metrics
}

// NewResolver creates a caching resolver around provider.
func NewResolver(provider Provider, cacheSize int, cacheTTL time.Duration) *Resolver {
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Resolver{
		provider: provider,
		cache: &lookupCache{
			data:    make(map[string]*cacheEntry),
			maxSize: cacheSize,
			ttl:     cacheTTL,
		},
	}
}

// SetMetrics attaches the lookup latency histogram.
func (r *Resolver) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Resolve returns the location for an IP, or nil when the IP is empty,
// unparseable or unknown. Ingest treats a nil result as "no
// enrichment", never as an error.
func (r *Resolver) Resolve(ip string) *Info {
	if ip == "" || r.provider == nil {
		return nil
	}
	start := time.Now()

	if info, ok := r.cache.get(ip); ok {
		if r.metrics != nil {
			r.metrics.RecordGeoLookup(true, time.Since(start))
		}
		return info
	}

	info, err := r.provider.Lookup(ip)
	if r.metrics != nil {
		r.metrics.RecordGeoLookup(false, time.Since(start))
	}
	if err != nil {
		return nil
	}

	r.cache.set(ip, info)
	return info
}

// Close releases the underlying provider.
func (r *Resolver) Close() error {
	if r.provider != nil {
		return r.provider.Close()
	}
	return nil
}

// lookupCache caches geo lookups.
type lookupCache struct {
	mu      sync.RWMutex
	data    map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	info      *Info
	expiresAt time.Time
}

func (c *lookupCache) get(ip string) (*Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[ip]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.info, true
}

func (c *lookupCache) set(ip string, info *Info) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict an arbitrary entry when at capacity. Map iteration order
	// makes this random eviction, which is good enough for an IP cache.
	if len(c.data) >= c.maxSize {
		for k := range c.data {
			delete(c.data, k)
			break
		}
	}

	c.data[ip] = &cacheEntry{
		info:      info,
		expiresAt: time.Now().Add(c.ttl),
	}
}
