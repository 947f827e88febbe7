package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pulsetrack/pulsetrack/internal/config"
	"github.com/pulsetrack/pulsetrack/internal/database"
	"github.com/pulsetrack/pulsetrack/internal/httpserver"
	"github.com/pulsetrack/pulsetrack/internal/metrics"
	"github.com/pulsetrack/pulsetrack/internal/middleware"
	"github.com/pulsetrack/pulsetrack/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use logger yet, fall back to standard log
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting PulseTrack",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL, falling back to the in-memory store when
	// the database is disabled (local development and tests).
	var db *database.PostgresDB
	if cfg.Database.Enabled {
		db, err = database.NewPostgresDB(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
		}
		defer db.Close()
	} else {
		logger.Warn("database disabled, using in-memory store")
	}

	// Initialize Redis (response cache). Optional.
	var redisDB *database.RedisDB
	if cfg.Redis.Addr != "" {
		redisDB, err = database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, response caching disabled", zap.Error(err))
		} else {
			defer redisDB.Close()
		}
	}

	// Initialize Prometheus metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("pulsetrack")
	}

	// Initialize the ClickHouse raw-event archive. Optional.
	var archive storage.EventArchive
	if cfg.ClickHouse.Enabled {
		ch, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("failed to connect to ClickHouse, event archive disabled", zap.Error(err))
		} else {
			defer ch.Close()
			a := storage.NewClickHouseArchive(ch, cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval, logger)
			a.SetMetrics(m)
			defer a.Close()
			archive = a
		}
	}

	// Build dependencies
	deps := &httpserver.Dependencies{
		DB:      db,
		Redis:   redisDB,
		Archive: archive,
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	}

	// Create HTTP server with all middlewares
	handler := httpserver.NewServer(deps)

	// Apply middleware chain (order matters: outermost first)
	// Recovery -> Logging -> CORS -> RateLimit -> Auth -> Cache -> Handler
	recoveryMW := middleware.NewRecoveryMiddleware(logger)
	loggingMW := middleware.NewLoggingMiddleware(logger, m)
	corsMW := middleware.NewCORSMiddleware()
	rateLimitMW := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)
	authMW := middleware.NewAuthMiddleware(cfg.Auth, logger)
	rateLimitMW.SetMetrics(m)

	finalHandler := authMW.Handler(handler)
	if cfg.Cache.Enabled && redisDB != nil {
		cacheMW := middleware.NewCacheMiddleware(redisDB.Client, cfg.Cache.TTL, []string{
			"/events/counts",
			"/overview",
			"/pages",
			"/page-visits",
			"/click-rate",
			"/bounce-rate",
			"/conversion-rate",
			"/retention-rate",
			"/funnel",
			"/behavior",
		}, logger)
		cacheMW.SetMetrics(m)
		finalHandler = authMW.Handler(cacheMW.Handler(handler))
	}

	finalHandler = recoveryMW.Handler(
		loggingMW.Handler(
			corsMW.Handler(
				rateLimitMW.Handler(finalHandler),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 2 * time.Second,
		// No global read/write timeouts: live websocket connections
		// outlive any fixed deadline and manage their own after the
		// upgrade.
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Periodically export DB pool stats
	if m != nil && db != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					stats := db.Pool.Stat()
					m.UpdateDBStats(int(stats.IdleConns()), int(stats.AcquiredConns()), int(stats.TotalConns()))
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Cancel main context to stop background goroutines
	cancel()

	logger.Info("server stopped")
}
