package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tabsync/tabsync/internal/db"
)

// =============================================================================
// Sync Activity Recorder
// =============================================================================
//
// Row writes arrive far faster than stats are worth persisting. The
// recorder buffers per-automation counters and flushes them on a timer or
// when the buffer grows past a threshold, whichever comes first.

// Config holds recorder tuning
type Config struct {
	// FlushInterval is how often buffered counters are persisted
	FlushInterval time.Duration `toml:"flush_interval"`

	// FlushSize flushes early once this many automations have buffered
	// activity
	FlushSize int `toml:"flush_size"`
}

// DefaultConfig returns the default recorder configuration
func DefaultConfig() Config {
	return Config{
		FlushInterval: 30 * time.Second,
		FlushSize:     64,
	}
}

func validateConfig(cfg *Config) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 64
	}
}

// Store persists flushed batches. *db.DB satisfies it.
type Store interface {
	InsertSyncStats(stats []db.SyncStat) error
}

// Clock abstracts time for tests
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type counters struct {
	created int
	updated int
	deleted int
}

// Recorder accumulates sync activity and writes it behind
type Recorder struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	clock  Clock

	mu      sync.Mutex
	pending map[string]*counters

	kick     chan struct{}
	shutdown chan struct{}
	done     chan struct{}
}

// New creates a recorder. Call Start to begin the flush loop.
func New(cfg Config, store Store, logger *slog.Logger, clock Clock) *Recorder {
	validateConfig(&cfg)

	if clock == nil {
		clock = realClock{}
	}

	return &Recorder{
		cfg:      cfg,
		store:    store,
		logger:   logger.With("component", "stats"),
		clock:    clock,
		pending:  make(map[string]*counters),
		kick:     make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Record buffers activity for one automation. Never blocks on the database.
func (r *Recorder) Record(automationID string, created, updated, deleted int) {
	r.mu.Lock()
	c, ok := r.pending[automationID]
	if !ok {
		c = &counters{}
		r.pending[automationID] = c
	}
	c.created += created
	c.updated += updated
	c.deleted += deleted
	size := len(r.pending)
	r.mu.Unlock()

	if size >= r.cfg.FlushSize {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Start launches the flush loop
func (r *Recorder) Start(ctx context.Context) {
	go r.run(ctx)
}

// Shutdown stops the loop after one final flush
func (r *Recorder) Shutdown() {
	close(r.shutdown)
	<-r.done
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case <-r.shutdown:
			r.flush()
			return
		case <-ticker.C:
			r.flush()
		case <-r.kick:
			r.flush()
		}
	}
}

func (r *Recorder) flush() {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	pending := r.pending
	r.pending = make(map[string]*counters)
	r.mu.Unlock()

	now := r.clock.Now()
	batch := make([]db.SyncStat, 0, len(pending))
	for automationID, c := range pending {
		batch = append(batch, db.SyncStat{
			ID:           uuid.NewString(),
			AutomationID: automationID,
			RowsCreated:  c.created,
			RowsUpdated:  c.updated,
			RowsDeleted:  c.deleted,
			RecordedAt:   now,
		})
	}

	if err := r.store.InsertSyncStats(batch); err != nil {
		// Dropped rather than retried; stats are advisory
		r.logger.Error("failed to flush sync stats", "batch", len(batch), "error", err)
		return
	}

	r.logger.Debug("flushed sync stats", "batch", len(batch))
}
