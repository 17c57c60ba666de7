package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/tabsync/tabsync/internal/cache"
	"github.com/tabsync/tabsync/internal/db"
	"github.com/tabsync/tabsync/lib/interval"
)

// =============================================================================
// Sync Trigger
// =============================================================================
//
// The trigger ticks on a fixed interval, reads the automation cache, and
// kicks off sync work for every automation whose polling interval has
// elapsed. The cache, not the database, is the hot path; the database is
// only touched to repopulate an empty cache and to stamp sync times.

// Config holds trigger settings
type Config struct {
	// TickInterval is how often due automations are checked
	TickInterval time.Duration `toml:"tick_interval"`
}

// DefaultConfig returns the default trigger configuration
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Minute,
	}
}

func validateConfig(cfg *Config) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
}

// Store reads automations and stamps sync times. *db.DB satisfies it.
type Store interface {
	GetActiveAutomations() ([]db.Automation, error)
	UpdateLastSynced(id string, t time.Time) error
}

// Pipeline is the enqueue surface the trigger drives
type Pipeline interface {
	EnqueueSync() error
	EnqueueListSpreadsheets(accountID string) error
}

// Clock abstracts time for tests
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Trigger runs the periodic due check
type Trigger struct {
	cfg      Config
	store    Store
	cache    cache.Cache
	pipeline Pipeline
	logger   *slog.Logger
	clock    Clock

	shutdown chan struct{}
	done     chan struct{}
}

// New creates a trigger. A nil clock means wall time.
func New(cfg Config, store Store, c cache.Cache, pipeline Pipeline, logger *slog.Logger, clock Clock) *Trigger {
	validateConfig(&cfg)

	if clock == nil {
		clock = realClock{}
	}

	return &Trigger{
		cfg:      cfg,
		store:    store,
		cache:    c,
		pipeline: pipeline,
		logger:   logger.With("component", "trigger"),
		clock:    clock,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop
func (t *Trigger) Start(ctx context.Context) {
	t.logger.Info("starting trigger", "tickInterval", t.cfg.TickInterval)
	go t.run(ctx)
}

// Shutdown stops the loop and waits for the current tick to finish
func (t *Trigger) Shutdown() {
	close(t.shutdown)
	<-t.done
}

func (t *Trigger) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.shutdown:
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick runs one due check. Exported so a tick can be forced in tests and
// at startup.
func (t *Trigger) Tick(ctx context.Context) {
	entries, err := t.cache.List(ctx)
	if err != nil {
		t.logger.Error("failed to read automation cache", "error", err)
		return
	}

	// An empty cache is repopulated and the actual due check waits for
	// the next tick, so a cold start never fires everything at once
	if len(entries) == 0 {
		t.repopulate(ctx)
		return
	}

	now := t.clock.Now()
	due := 0

	for _, e := range entries {
		iv, err := interval.Parse(e.Interval)
		if err != nil {
			t.logger.Warn("bad polling interval, skipping automation",
				"automationId", e.AutomationID,
				"interval", e.Interval,
				"error", err,
			)
			continue
		}

		if !iv.Due(now, e.LastSyncedAt) {
			continue
		}
		due++

		// Stamp before the work is done so the automation does not fire
		// again on every tick while the crawl runs
		if err := t.store.UpdateLastSynced(e.AutomationID, now); err != nil {
			t.logger.Error("failed to stamp sync time", "automationId", e.AutomationID, "error", err)
			continue
		}
		if err := t.cache.SetLastSynced(ctx, e.AutomationID, now); err != nil {
			t.logger.Error("failed to stamp cache", "automationId", e.AutomationID, "error", err)
		}

		if e.DestinationAccountID != "" {
			if err := t.pipeline.EnqueueListSpreadsheets(e.DestinationAccountID); err != nil {
				t.logger.Error("failed to enqueue spreadsheet refresh",
					"accountId", e.DestinationAccountID,
					"error", err,
				)
			}
		}
	}

	if due == 0 {
		return
	}

	// One crawl covers every due automation
	if err := t.pipeline.EnqueueSync(); err != nil {
		t.logger.Error("failed to enqueue sync", "error", err)
		return
	}

	t.logger.Info("sync triggered", "dueAutomations", due)
}

// repopulate fills the cache from the database
func (t *Trigger) repopulate(ctx context.Context) {
	automations, err := t.store.GetActiveAutomations()
	if err != nil {
		t.logger.Error("failed to load automations", "error", err)
		return
	}

	for _, a := range automations {
		e := cache.Entry{
			AutomationID:         a.ID,
			SourceDatabaseID:     a.SourceDatabaseID,
			DestinationAccountID: a.DestinationAccountID,
			Interval:             a.Interval,
		}
		if a.LastSyncedAt != nil {
			e.LastSyncedAt = *a.LastSyncedAt
		}

		if err := t.cache.Put(ctx, e); err != nil {
			t.logger.Error("failed to cache automation", "automationId", a.ID, "error", err)
		}
	}

	t.logger.Info("automation cache repopulated", "count", len(automations))
}
