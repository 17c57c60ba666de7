package importer

import (
	"errors"
	"log/slog"
	"time"

	"github.com/tabsync/tabsync/internal/db"
)

// =============================================================================
// Import Progress Tracker
// =============================================================================
//
// Write-row workers for one import run concurrently. The tracker keeps all
// progress in the database behind atomic guarded updates, so any worker
// can be the one that observes completion.

// Store is the persistence surface the tracker needs. *db.DB satisfies it.
type Store interface {
	GetAutomation(id string) (*db.Automation, error)
	FinalizeImportTotal(id string, total int) error
	IncrementImportProcessed(id string) (processed int, total *int, err error)
	CompleteImport(id string, now time.Time) error
	FailImport(id string, now time.Time) error
}

// Clock abstracts time for tests
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Tracker advances import progress and closes the state machine
type Tracker struct {
	store  Store
	logger *slog.Logger
	clock  Clock
}

// New creates a tracker. A nil clock means wall time.
func New(store Store, logger *slog.Logger, clock Clock) *Tracker {
	if clock == nil {
		clock = realClock{}
	}

	return &Tracker{
		store:  store,
		logger: logger.With("component", "importer"),
		clock:  clock,
	}
}

// FinalizeTotal records the total row count once the crawl stops paginating.
// When every row was already processed before the total landed, including
// the zero-row case, the import completes here.
func (t *Tracker) FinalizeTotal(automationID string, total int) error {
	if err := t.store.FinalizeImportTotal(automationID, total); err != nil {
		return err
	}

	a, err := t.store.GetAutomation(automationID)
	if err != nil {
		return err
	}

	if a.ImportProcessedRows >= total {
		return t.complete(automationID)
	}

	return nil
}

// RecordProcessed counts one written import row and completes the import
// when the counter reaches the total
func (t *Tracker) RecordProcessed(automationID string) error {
	processed, total, err := t.store.IncrementImportProcessed(automationID)
	if errors.Is(err, db.ErrStaleState) {
		// The import already reached a terminal state, likely failed by
		// another worker. The row write itself succeeded.
		t.logger.Warn("import row finished after import ended", "automationId", automationID)
		return nil
	}
	if err != nil {
		return err
	}

	if total != nil && processed >= *total {
		return t.complete(automationID)
	}

	return nil
}

// Fail marks the import failed. Safe to call from any state; an already
// terminal import is left alone.
func (t *Tracker) Fail(automationID string) {
	err := t.store.FailImport(automationID, t.clock.Now())
	if errors.Is(err, db.ErrStaleState) {
		return
	}
	if err != nil {
		t.logger.Error("failed to mark import failed", "automationId", automationID, "error", err)
		return
	}

	t.logger.Warn("import failed", "automationId", automationID)
}

func (t *Tracker) complete(automationID string) error {
	err := t.store.CompleteImport(automationID, t.clock.Now())
	if errors.Is(err, db.ErrStaleState) {
		// Another worker got there first
		return nil
	}
	if err != nil {
		return err
	}

	t.logger.Info("import completed", "automationId", automationID)
	return nil
}
