package stats

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tabsync/tabsync/internal/db"
)

type mockStore struct {
	mu      sync.Mutex
	batches [][]db.SyncStat
}

func (m *mockStore) InsertSyncStats(stats []db.SyncStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, stats)
	return nil
}

func (m *mockStore) all() []db.SyncStat {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []db.SyncStat
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestRecordAggregatesPerAutomation(t *testing.T) {
	store := &mockStore{}
	cfg := Config{FlushInterval: time.Hour, FlushSize: 1000}
	r := New(cfg, store, testLogger(), nil)

	r.Record("auto-1", 1, 0, 0)
	r.Record("auto-1", 0, 2, 0)
	r.Record("auto-2", 0, 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	r.Shutdown()

	stats := store.all()
	if len(stats) != 2 {
		t.Fatalf("expected 2 aggregated rows, got %d", len(stats))
	}

	byAutomation := map[string]db.SyncStat{}
	for _, s := range stats {
		byAutomation[s.AutomationID] = s
	}

	a1 := byAutomation["auto-1"]
	if a1.RowsCreated != 1 || a1.RowsUpdated != 2 || a1.RowsDeleted != 0 {
		t.Errorf("unexpected auto-1 counters: %+v", a1)
	}
	a2 := byAutomation["auto-2"]
	if a2.RowsDeleted != 1 {
		t.Errorf("unexpected auto-2 counters: %+v", a2)
	}
}

func TestTimedFlush(t *testing.T) {
	store := &mockStore{}
	cfg := Config{FlushInterval: 10 * time.Millisecond, FlushSize: 1000}
	r := New(cfg, store, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Shutdown()

	r.Record("auto-1", 1, 0, 0)

	waitFor(t, time.Second, func() bool { return len(store.all()) == 1 })
}

func TestSizeTriggeredFlush(t *testing.T) {
	store := &mockStore{}
	cfg := Config{FlushInterval: time.Hour, FlushSize: 2}
	r := New(cfg, store, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Shutdown()

	r.Record("auto-1", 1, 0, 0)
	r.Record("auto-2", 1, 0, 0)

	// The size threshold beats the hour-long timer
	waitFor(t, time.Second, func() bool { return len(store.all()) == 2 })
}

func TestFlushEmptyIsNoop(t *testing.T) {
	store := &mockStore{}
	r := New(DefaultConfig(), store, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	r.Shutdown()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.batches) != 0 {
		t.Errorf("expected no batches for empty recorder, got %d", len(store.batches))
	}
}
