package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulsetrack/pulsetrack/internal/database"
	"github.com/pulsetrack/pulsetrack/internal/metrics"
	"github.com/pulsetrack/pulsetrack/internal/models"
)

// ClickHouseArchive writes a copy of every accepted event to ClickHouse
// for long-term analytical queries. Writes are buffered and flushed in
// batches so the ingest path never blocks on the archive.
type ClickHouseArchive struct {
	db      *database.ClickHouseDB
	logger  *zap.Logger
	metrics *metrics.Metrics

	batchSize     int
	flushInterval time.Duration

	buf    chan *models.Event
	done   chan struct{}
	cancel context.CancelFunc
}

// NewClickHouseArchive starts the background flush loop. Call Close to
// drain the buffer and stop it.
func NewClickHouseArchive(db *database.ClickHouseDB, batchSize int, flushInterval time.Duration, logger *zap.Logger) *ClickHouseArchive {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &ClickHouseArchive{
		db:            db,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buf:           make(chan *models.Event, batchSize*4),
		done:          make(chan struct{}),
		cancel:        cancel,
	}
	go a.run(ctx)
	return a
}

// SetMetrics attaches the archive buffer depth gauge.
func (a *ClickHouseArchive) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// Archive enqueues an event for the next batch. It never blocks: if the
// buffer is full the event is dropped and counted in the logs.
func (a *ClickHouseArchive) Archive(event *models.Event) {
	select {
	case a.buf <- event:
	default:
		a.logger.Warn("event archive buffer full, dropping event",
			zap.String("event_id", event.ID),
			zap.String("site_id", event.SiteID))
	}
	if a.metrics != nil {
		a.metrics.UpdateArchiveDepth(len(a.buf))
	}
}

// Close flushes any buffered events and stops the background loop.
func (a *ClickHouseArchive) Close() error {
	a.cancel()
	<-a.done
	return nil
}

func (a *ClickHouseArchive) run(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.Event, 0, a.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := a.insertBatch(context.Background(), batch); err != nil {
			a.logger.Error("failed to flush event archive batch",
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
		}
		batch = batch[:0]
		if a.metrics != nil {
			a.metrics.UpdateArchiveDepth(len(a.buf))
		}
	}

	for {
		select {
		case ev := <-a.buf:
			batch = append(batch, ev)
			if len(batch) >= a.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case ev := <-a.buf:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (a *ClickHouseArchive) insertBatch(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := a.db.Conn.PrepareBatch(ctx, `
		INSERT INTO events_archive (
			event_id, site_id, session_id, user_id, name, url, referrer,
			user_agent, ip_address, country, region, city, properties, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare archive batch: %w", err)
	}

	for _, ev := range events {
		props, err := ev.Properties.JSON()
		if err != nil {
			a.logger.Warn("failed to encode event properties for archive",
				zap.String("event_id", ev.ID),
				zap.Error(err))
			props = "{}"
		}
		if err := batch.Append(
			ev.ID,
			ev.SiteID,
			ev.SessionID,
			ev.UserID,
			ev.Name,
			ev.URL,
			ev.Referrer,
			ev.UserAgent,
			ev.IPAddress,
			ev.Country,
			ev.Region,
			ev.City,
			props,
			ev.Timestamp,
		); err != nil {
			a.logger.Warn("failed to append event to archive batch",
				zap.String("event_id", ev.ID),
				zap.Error(err))
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send archive batch: %w", err)
	}
	return nil
}

// NoopArchive satisfies EventArchive when ClickHouse is not configured.
type NoopArchive struct{}

func (NoopArchive) Archive(*models.Event) {}
func (NoopArchive) Close() error          { return nil }
