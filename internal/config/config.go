package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the PulseTrack API.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Cache      CacheConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Live       LiveConfig
	Analytics  AnalyticsConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	// Enabled switches between PostgreSQL and the in-memory store.
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional raw-event archive.
type ClickHouseConfig struct {
	Enabled       bool
	Addr          string
	Database      string
	Username      string
	Password      string
	BatchSize     int
	FlushInterval time.Duration
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled     bool
	IngestRPS   float64
	IngestBurst int
	QueryRPS    float64
	QueryBurst  int
}

// CacheConfig configures the Redis response cache for metric reads.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP enrichment of ingested events.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
	CacheSize    int
	CacheTTL     time.Duration
}

// LiveConfig configures the live click window and dashboard push.
type LiveConfig struct {
	// Window is how far back the in-memory click series reaches.
	Window time.Duration
	// PushInterval is how often rate snapshots are pushed to
	// subscribed dashboard connections.
	PushInterval time.Duration
}

// AnalyticsConfig holds metric computation defaults.
type AnalyticsConfig struct {
	// DefaultWindowDays is the lookback applied when a request does
	// not specify one.
	DefaultWindowDays int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("PULSETRACK_HTTP_ADDR", ":8080"),
			Env:             getEnv("PULSETRACK_ENV", "development"),
			ShutdownTimeout: getDurationEnv("PULSETRACK_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolEnv("PULSETRACK_DB_ENABLED", true),
			Host:     getEnv("PULSETRACK_DB_HOST", "localhost"),
			Port:     getIntEnv("PULSETRACK_DB_PORT", 5432),
			User:     getEnv("PULSETRACK_DB_USER", "pulsetrack"),
			Password: getEnv("PULSETRACK_DB_PASSWORD", "pulsetrack_secret"),
			DBName:   getEnv("PULSETRACK_DB_NAME", "pulsetrack"),
			SSLMode:  getEnv("PULSETRACK_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("PULSETRACK_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("PULSETRACK_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("PULSETRACK_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("PULSETRACK_REDIS_PASSWORD", ""),
			DB:       getIntEnv("PULSETRACK_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:       getBoolEnv("PULSETRACK_CLICKHOUSE_ENABLED", false),
			Addr:          getEnv("PULSETRACK_CLICKHOUSE_ADDR", "localhost:9000"),
			Database:      getEnv("PULSETRACK_CLICKHOUSE_DB", "pulsetrack"),
			Username:      getEnv("PULSETRACK_CLICKHOUSE_USER", "default"),
			Password:      getEnv("PULSETRACK_CLICKHOUSE_PASSWORD", ""),
			BatchSize:     getIntEnv("PULSETRACK_CLICKHOUSE_BATCH_SIZE", 500),
			FlushInterval: getDurationEnv("PULSETRACK_CLICKHOUSE_FLUSH_INTERVAL", 5*time.Second),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("PULSETRACK_AUTH_ENABLED", true),
			MasterKey: getEnv("PULSETRACK_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("PULSETRACK_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/events", "/ws"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getBoolEnv("PULSETRACK_RATE_LIMIT_ENABLED", true),
			IngestRPS:   getFloatEnv("PULSETRACK_RATE_LIMIT_INGEST_RPS", 1000),
			IngestBurst: getIntEnv("PULSETRACK_RATE_LIMIT_INGEST_BURST", 200),
			QueryRPS:    getFloatEnv("PULSETRACK_RATE_LIMIT_QUERY_RPS", 100),
			QueryBurst:  getIntEnv("PULSETRACK_RATE_LIMIT_QUERY_BURST", 20),
		},
		Cache: CacheConfig{
			Enabled: getBoolEnv("PULSETRACK_CACHE_ENABLED", true),
			TTL:     getDurationEnv("PULSETRACK_CACHE_TTL", 60*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("PULSETRACK_LOG_LEVEL", "info"),
			Format: getEnv("PULSETRACK_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("PULSETRACK_METRICS_ENABLED", true),
			Path:    getEnv("PULSETRACK_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("PULSETRACK_GEO_ENABLED", false),
			DatabasePath: getEnv("PULSETRACK_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
			CacheSize:    getIntEnv("PULSETRACK_GEO_CACHE_SIZE", 10000),
			CacheTTL:     getDurationEnv("PULSETRACK_GEO_CACHE_TTL", 1*time.Hour),
		},
		Live: LiveConfig{
			Window:       getDurationEnv("PULSETRACK_LIVE_WINDOW", 10*time.Minute),
			PushInterval: getDurationEnv("PULSETRACK_LIVE_PUSH_INTERVAL", 30*time.Second),
		},
		Analytics: AnalyticsConfig{
			DefaultWindowDays: getIntEnv("PULSETRACK_ANALYTICS_DEFAULT_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("PULSETRACK_API_KEY_MASTER is required when auth is enabled")
	}
	if c.Analytics.DefaultWindowDays <= 0 {
		return fmt.Errorf("PULSETRACK_ANALYTICS_DEFAULT_DAYS must be positive")
	}
	if c.Live.Window <= 0 {
		return fmt.Errorf("PULSETRACK_LIVE_WINDOW must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
