package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pulsetrack/pulsetrack/internal/metrics"
)

// CacheMiddleware is a look-aside Redis cache for metric reads. Metric
// queries are recomputed from the full window on every request, so a
// short TTL takes most of the load off the store without making the
// dashboard noticeably stale.
type CacheMiddleware struct {
	client  *redis.Client
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	// paths that are safe to cache; all are pure reads.
	paths map[string]struct{}
}

// NewCacheMiddleware creates a cache over the given Redis client with
// the given TTL. cachePaths lists the exact request paths to cache.
func NewCacheMiddleware(client *redis.Client, ttl time.Duration, cachePaths []string, logger *zap.Logger) *CacheMiddleware {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	paths := make(map[string]struct{}, len(cachePaths))
	for _, p := range cachePaths {
		paths[p] = struct{}{}
	}
	return &CacheMiddleware{
		client: client,
		ttl:    ttl,
		logger: logger,
		paths:  paths,
	}
}

func (c *CacheMiddleware) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

type cacheRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (cr *cacheRecorder) WriteHeader(code int) {
	cr.status = code
	cr.ResponseWriter.WriteHeader(code)
}

func (cr *cacheRecorder) Write(b []byte) (int, error) {
	cr.body.Write(b)
	return cr.ResponseWriter.Write(b)
}

func (c *CacheMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.client == nil || r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := c.paths[r.URL.Path]; !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := "cache:" + r.URL.Path + "?" + r.URL.RawQuery
		cached, err := c.client.Get(r.Context(), key).Bytes()
		if err == nil {
			if c.metrics != nil {
				c.metrics.RecordCacheLookup(true)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			w.Write(cached)
			return
		}
		if err != redis.Nil {
			c.logger.Warn("response cache read failed", zap.Error(err))
		}
		if c.metrics != nil {
			c.metrics.RecordCacheLookup(false)
		}

		recorder := &cacheRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		if recorder.status == http.StatusOK && recorder.body.Len() > 0 {
			if err := c.client.Set(r.Context(), key, recorder.body.Bytes(), c.ttl).Err(); err != nil {
				c.logger.Warn("response cache write failed", zap.Error(err))
			}
		}
	})
}
