package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tabsync/tabsync/internal/db"
	"github.com/tabsync/tabsync/internal/notion"
	"github.com/tabsync/tabsync/internal/queue"
	"github.com/tabsync/tabsync/internal/sheets"
)

// =============================================================================
// Pipeline Worker
// =============================================================================
//
// The worker owns the four pipeline queues and their handlers. Everything
// it touches comes in through Deps; nothing is reached through globals.

// Config holds pipeline tuning
type Config struct {
	// ImportPageSize is the page size used for import crawls
	ImportPageSize int `toml:"import_page_size"`

	// ImportMaxRows caps how many rows an initial import will pull
	ImportMaxRows int `toml:"import_max_rows"`

	// IdentityScanRows bounds how many destination rows are scanned when
	// correlating a record to its row
	IdentityScanRows int `toml:"identity_scan_rows"`

	SourceQueue queue.Config `toml:"source_queue"`
	PageQueue   queue.Config `toml:"page_queue"`
	SheetsQueue queue.Config `toml:"sheets_queue"`
	LegacyQueue queue.Config `toml:"legacy_queue"`
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	sourceQueue := queue.DefaultConfig("notion-sync")
	sourceQueue.Rate = 3
	sourceQueue.BaseDelay = queue.Duration(2 * time.Second)

	pageQueue := queue.DefaultConfig("notion-page")
	pageQueue.Rate = 3
	pageQueue.BaseDelay = queue.Duration(time.Second)

	sheetsQueue := queue.DefaultConfig("sheets-write")
	sheetsQueue.Rate = 5 // 300 per minute
	sheetsQueue.BaseDelay = queue.Duration(time.Second)

	legacyQueue := queue.DefaultConfig("legacy-sync")
	legacyQueue.Rate = 5
	legacyQueue.BaseDelay = queue.Duration(time.Second)

	return Config{
		ImportPageSize:   notion.MaxPageSize,
		ImportMaxRows:    100,
		IdentityScanRows: 10000,
		SourceQueue:      sourceQueue,
		PageQueue:        pageQueue,
		SheetsQueue:      sheetsQueue,
		LegacyQueue:      legacyQueue,
	}
}

func validateConfig(cfg *Config) {
	if cfg.ImportPageSize <= 0 || cfg.ImportPageSize > notion.MaxPageSize {
		cfg.ImportPageSize = notion.MaxPageSize
	}
	if cfg.ImportMaxRows <= 0 {
		cfg.ImportMaxRows = 100
	}
	if cfg.IdentityScanRows <= 0 {
		cfg.IdentityScanRows = 10000
	}
}

// Store is the persistence surface the pipeline needs. *db.DB satisfies it.
type Store interface {
	GetAutomation(id string) (*db.Automation, error)
	GetAutomationBySourceDatabase(sourceDatabaseID string) (*db.Automation, error)
	UpdateLastSynced(id string, t time.Time) error
	BeginImport(id string, now time.Time) error

	GetMappingByAutomation(automationID string) (*db.MappingConfig, error)

	UpsertEntity(e *db.CachedEntity) error
	GetEntityBySourceID(sourceID string) (*db.CachedEntity, error)
	GetEntitiesByParent(parentID string) ([]db.CachedEntity, error)
	ArchiveEntity(sourceID string) error

	UpsertSpreadsheet(s *db.SpreadsheetMeta) error
	DeleteSpreadsheetsForAccount(accountID string) error

	UpsertRowMapping(m *db.RowMapping) error
	GetRowMapping(automationID, sourceRecordID string) (*db.RowMapping, error)
	MaxMappedRow(automationID string) (int, error)
	DeleteRowMapping(automationID, sourceRecordID string) error
}

// SourceClient reads records from the source API
type SourceClient interface {
	Search(ctx context.Context, cursor string, pageSize int) (*notion.ListResponse, error)
	QueryDatabase(ctx context.Context, databaseID, cursor string, pageSize int) (*notion.ListResponse, error)
	RetrievePage(ctx context.Context, pageID string) (*notion.Page, error)
}

// SheetsClient reads and writes the destination spreadsheets
type SheetsClient interface {
	GetValues(ctx context.Context, spreadsheetID, a1Range string) (*sheets.ValueRange, error)
	UpdateValues(ctx context.Context, spreadsheetID, a1Range string, values [][]string) error
	AppendValues(ctx context.Context, spreadsheetID, a1Range string, values [][]string) (string, error)
	ClearValues(ctx context.Context, spreadsheetID, a1Range string) error
	ListSpreadsheets(ctx context.Context, pageToken string) (*sheets.FileList, error)
}

// ImportTracker owns the import progress state machine. FinalizeTotal and
// RecordProcessed both run the completion check, whichever lands last.
type ImportTracker interface {
	FinalizeTotal(automationID string, total int) error
	RecordProcessed(automationID string) error
	Fail(automationID string)
}

// StatsRecorder accumulates per-automation sync activity
type StatsRecorder interface {
	Record(automationID string, created, updated, deleted int)
}

// Clock abstracts time for tests
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Deps bundles the worker's collaborators
type Deps struct {
	Store   Store
	Source  SourceClient
	Sheets  SheetsClient
	Tracker ImportTracker
	Stats   StatsRecorder
	Logger  *slog.Logger
	Clock   Clock
}

// Worker runs the sync pipeline
type Worker struct {
	cfg     Config
	store   Store
	source  SourceClient
	sheets  SheetsClient
	tracker ImportTracker
	stats   StatsRecorder
	logger  *slog.Logger
	clock   Clock

	sourceQueue *queue.Queue[SourceJob]
	pageQueue   *queue.Queue[PageJob]
	sheetsQueue *queue.Queue[SheetsJob]
	legacyQueue *queue.Queue[LegacyJob]
}

// New creates a worker. Call Start to begin processing.
func New(cfg Config, deps Deps) *Worker {
	validateConfig(&cfg)

	if deps.Clock == nil {
		deps.Clock = realClock{}
	}

	w := &Worker{
		cfg:     cfg,
		store:   deps.Store,
		source:  deps.Source,
		sheets:  deps.Sheets,
		tracker: deps.Tracker,
		stats:   deps.Stats,
		logger:  deps.Logger.With("component", "worker"),
		clock:   deps.Clock,
	}

	w.sourceQueue = queue.New(cfg.SourceQueue, w.handleSourceJob, deps.Logger)
	w.pageQueue = queue.New(cfg.PageQueue, w.handlePageJob, deps.Logger)
	w.sheetsQueue = queue.New(cfg.SheetsQueue, w.handleSheetsJob, deps.Logger)
	w.legacyQueue = queue.New(cfg.LegacyQueue, w.handleLegacyJob, deps.Logger)

	// Exhausted imports mark the automation failed so it can be retried
	// by the user
	w.sourceQueue.OnFailure(func(job queue.Job[SourceJob], err error) {
		if job.Payload.Kind == SourceImport && job.Payload.Import != nil {
			w.tracker.Fail(job.Payload.Import.AutomationID)
		}
	})
	w.sheetsQueue.OnFailure(func(job queue.Job[SheetsJob], err error) {
		if job.Payload.Kind == SheetsWriteRow && job.Payload.WriteRow != nil && job.Payload.WriteRow.Import {
			w.tracker.Fail(job.Payload.WriteRow.AutomationID)
		}
	})

	return w
}

// Start launches all queue worker pools and the event drains
func (w *Worker) Start(ctx context.Context) {
	w.sourceQueue.Start(ctx)
	w.pageQueue.Start(ctx)
	w.sheetsQueue.Start(ctx)
	w.legacyQueue.Start(ctx)

	go w.drainEvents(w.sourceQueue.Events())
	go w.drainEvents(w.pageQueue.Events())
	go w.drainEvents(w.sheetsQueue.Events())
	go w.drainEvents(w.legacyQueue.Events())

	w.logger.Info("pipeline started")
}

// Shutdown drains the queues in pipeline order
func (w *Worker) Shutdown() {
	w.sourceQueue.Shutdown()
	w.pageQueue.Shutdown()
	w.sheetsQueue.Shutdown()
	w.legacyQueue.Shutdown()

	w.logger.Info("pipeline stopped")
}

// QueueStats returns activity counters for every queue
func (w *Worker) QueueStats() map[string]queue.Stats {
	return map[string]queue.Stats{
		w.sourceQueue.Name(): w.sourceQueue.GetStats(),
		w.pageQueue.Name():   w.pageQueue.GetStats(),
		w.sheetsQueue.Name(): w.sheetsQueue.GetStats(),
		w.legacyQueue.Name(): w.legacyQueue.GetStats(),
	}
}

func (w *Worker) drainEvents(events <-chan queue.Event) {
	for e := range events {
		w.logger.Debug("job finished",
			"queue", e.Queue,
			"jobId", e.JobID,
			"status", e.Status.String(),
			"attempts", e.Attempts,
		)
	}
}

// =============================================================================
// Dispatch
// =============================================================================

func (w *Worker) handleSourceJob(ctx context.Context, job queue.Job[SourceJob]) error {
	switch job.Payload.Kind {
	case SourceImport:
		return w.handleImport(ctx, *job.Payload.Import)
	case SourceSync:
		return w.handleSync(ctx, *job.Payload.Sync)
	default:
		return fmt.Errorf("worker: unknown source job kind %d", job.Payload.Kind)
	}
}

func (w *Worker) handlePageJob(ctx context.Context, job queue.Job[PageJob]) error {
	return w.handlePageFetch(ctx, job.Payload)
}

func (w *Worker) handleSheetsJob(ctx context.Context, job queue.Job[SheetsJob]) error {
	switch job.Payload.Kind {
	case SheetsWriteRow:
		return w.handleWriteRow(ctx, *job.Payload.WriteRow)
	case SheetsDeleteRow:
		return w.handleDeleteRow(ctx, *job.Payload.DeleteRow)
	case SheetsWriteHeaders:
		return w.handleWriteHeaders(ctx, *job.Payload.WriteHeaders)
	case SheetsListSpreadsheets:
		return w.handleListSpreadsheets(ctx, *job.Payload.ListSpreadsheets)
	default:
		return fmt.Errorf("worker: unknown sheets job kind %d", job.Payload.Kind)
	}
}

func (w *Worker) handleLegacyJob(ctx context.Context, job queue.Job[LegacyJob]) error {
	return w.handleLegacySync(ctx, job.Payload)
}

// =============================================================================
// Public Enqueue API
// =============================================================================

// StartImport moves the automation into the importing state and kicks off
// the first crawl page. Imports rely on the identity column to correlate
// rows, so automations without one are rejected up front.
func (w *Worker) StartImport(automationID string) error {
	mapping, err := w.store.GetMappingByAutomation(automationID)
	if err != nil {
		return err
	}
	if !mapping.IncludeNotionID {
		return fmt.Errorf("worker: automation %s has no identity column, import needs one", automationID)
	}

	if err := w.store.BeginImport(automationID, w.clock.Now()); err != nil {
		return err
	}

	payload := SourceJob{
		Kind:   SourceImport,
		Import: &ImportPayload{AutomationID: automationID},
	}
	return w.enqueueSource(importJobID(automationID, ""), payload)
}

// EnqueueSync starts an incremental crawl from the beginning
func (w *Worker) EnqueueSync() error {
	payload := SourceJob{Kind: SourceSync, Sync: &SyncPayload{}}
	return w.enqueueSource(syncJobID(""), payload)
}

// EnqueuePageFetch schedules a single-record refresh
func (w *Worker) EnqueuePageFetch(pageID, eventType string) error {
	err := w.pageQueue.Enqueue(pageJobID(pageID), PageJob{PageID: pageID, EventType: eventType})
	return ignoreDuplicate(err)
}

// EnqueueDeleteRow schedules removal of a record's destination row.
// Automations without an identity column have no scannable row; their
// mapping sync clears rows of archived records instead.
func (w *Worker) EnqueueDeleteRow(automationID, sourceRecordID string) error {
	mapping, err := w.store.GetMappingByAutomation(automationID)
	if err != nil {
		return err
	}
	if !mapping.IncludeNotionID {
		if err := w.store.ArchiveEntity(sourceRecordID); err != nil && !db.IsNotFound(err) {
			return err
		}
		return w.EnqueueLegacySync(automationID)
	}

	payload := SheetsJob{
		Kind:      SheetsDeleteRow,
		DeleteRow: &DeleteRowPayload{AutomationID: automationID, SourceRecordID: sourceRecordID},
	}
	err = w.sheetsQueue.Enqueue(deleteRowJobID(automationID, sourceRecordID), payload)
	return ignoreDuplicate(err)
}

// EnqueueListSpreadsheets refreshes the account's visible spreadsheets
func (w *Worker) EnqueueListSpreadsheets(accountID string) error {
	payload := SheetsJob{
		Kind:             SheetsListSpreadsheets,
		ListSpreadsheets: &ListSpreadsheetsPayload{AccountID: accountID},
	}
	err := w.sheetsQueue.Enqueue(listSpreadsheetsJobID(accountID, ""), payload)
	return ignoreDuplicate(err)
}

// EnqueueLegacySync schedules a checksum-driven mapping sync
func (w *Worker) EnqueueLegacySync(automationID string) error {
	err := w.legacyQueue.Enqueue(legacyJobID(automationID), LegacyJob{AutomationID: automationID})
	return ignoreDuplicate(err)
}

func (w *Worker) enqueueSource(id string, payload SourceJob) error {
	return ignoreDuplicate(w.sourceQueue.Enqueue(id, payload))
}

func (w *Worker) enqueueSheets(id string, payload SheetsJob) error {
	return ignoreDuplicate(w.sheetsQueue.Enqueue(id, payload))
}

// enqueueRecordWrite routes one changed record to the write path its
// automation supports: a direct row write when the mapping carries the
// identity column, the checksum-driven mapping sync otherwise
func (w *Worker) enqueueRecordWrite(automationID, sourceRecordID, eventType string) error {
	mapping, err := w.store.GetMappingByAutomation(automationID)
	if err != nil {
		return err
	}
	if !mapping.IncludeNotionID {
		return w.EnqueueLegacySync(automationID)
	}

	write := SheetsJob{
		Kind: SheetsWriteRow,
		WriteRow: &WriteRowPayload{
			AutomationID:   automationID,
			SourceRecordID: sourceRecordID,
			EventType:      eventType,
		},
	}
	return w.enqueueSheets(writeRowJobID(automationID, sourceRecordID), write)
}

// A duplicate means the same logical operation is already scheduled, which
// is exactly what the caller wanted
func ignoreDuplicate(err error) error {
	if err == queue.ErrDuplicate {
		return nil
	}
	return err
}
