package importer

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tabsync/tabsync/internal/db"
)

// mockStore mimics the guarded import transitions in memory
type mockStore struct {
	mu        sync.Mutex
	status    string
	processed int
	total     *int

	completeCalls int
	failCalls     int
}

func newMockStore(status string) *mockStore {
	return &mockStore{status: status}
}

func (m *mockStore) GetAutomation(id string) (*db.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return &db.Automation{
		ID:                  id,
		ImportStatus:        m.status,
		ImportProcessedRows: m.processed,
		ImportTotalRows:     m.total,
	}, nil
}

func (m *mockStore) FinalizeImportTotal(id string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != db.ImportImporting {
		return db.ErrStaleState
	}
	m.total = &total
	return nil
}

func (m *mockStore) IncrementImportProcessed(id string) (int, *int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != db.ImportImporting {
		return 0, nil, db.ErrStaleState
	}
	m.processed++
	return m.processed, m.total, nil
}

func (m *mockStore) CompleteImport(id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != db.ImportImporting {
		return db.ErrStaleState
	}
	m.status = db.ImportCompleted
	m.completeCalls++
	return nil
}

func (m *mockStore) FailImport(id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != db.ImportPending && m.status != db.ImportImporting {
		return db.ErrStaleState
	}
	m.status = db.ImportFailed
	m.failCalls++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordProcessedCompletesAtTotal(t *testing.T) {
	store := newMockStore(db.ImportImporting)
	total := 3
	store.total = &total

	tracker := New(store, testLogger(), nil)

	for i := 0; i < 3; i++ {
		if err := tracker.RecordProcessed("auto-1"); err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
	}

	if store.status != db.ImportCompleted {
		t.Errorf("expected completed, got %q", store.status)
	}
	if store.completeCalls != 1 {
		t.Errorf("expected 1 completion, got %d", store.completeCalls)
	}
}

func TestRecordProcessedBeforeTotalKnown(t *testing.T) {
	store := newMockStore(db.ImportImporting)
	tracker := New(store, testLogger(), nil)

	// Rows land before the crawl finishes; no total means no completion
	for i := 0; i < 2; i++ {
		if err := tracker.RecordProcessed("auto-1"); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	if store.status != db.ImportImporting {
		t.Fatalf("expected still importing, got %q", store.status)
	}

	// The total lands last and closes the import
	if err := tracker.FinalizeTotal("auto-1", 2); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if store.status != db.ImportCompleted {
		t.Errorf("expected completed, got %q", store.status)
	}
}

func TestFinalizeTotalZeroRows(t *testing.T) {
	store := newMockStore(db.ImportImporting)
	tracker := New(store, testLogger(), nil)

	if err := tracker.FinalizeTotal("auto-1", 0); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if store.status != db.ImportCompleted {
		t.Errorf("expected empty import to complete immediately, got %q", store.status)
	}
}

func TestRecordProcessedAfterTerminal(t *testing.T) {
	store := newMockStore(db.ImportFailed)
	tracker := New(store, testLogger(), nil)

	// Not an error: the row write itself succeeded
	if err := tracker.RecordProcessed("auto-1"); err != nil {
		t.Errorf("expected nil for late row, got %v", err)
	}
	if store.processed != 0 {
		t.Errorf("expected no increment after terminal state, got %d", store.processed)
	}
}

func TestFail(t *testing.T) {
	store := newMockStore(db.ImportImporting)
	tracker := New(store, testLogger(), nil)

	tracker.Fail("auto-1")
	if store.status != db.ImportFailed {
		t.Errorf("expected failed, got %q", store.status)
	}

	// Idempotent on terminal states
	tracker.Fail("auto-1")
	if store.failCalls != 1 {
		t.Errorf("expected 1 fail transition, got %d", store.failCalls)
	}
}

// Concurrent workers must produce exactly N increments and one completion
func TestConcurrentRecordProcessed(t *testing.T) {
	store := newMockStore(db.ImportImporting)
	const workers = 40
	total := workers
	store.total = &total

	tracker := New(store, testLogger(), nil)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracker.RecordProcessed("auto-1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent record failed: %v", err)
	}

	if store.processed != workers {
		t.Errorf("expected %d processed, got %d", workers, store.processed)
	}
	if store.status != db.ImportCompleted {
		t.Errorf("expected completed, got %q", store.status)
	}
	if store.completeCalls != 1 {
		t.Errorf("expected exactly 1 completion, got %d", store.completeCalls)
	}
}
