package trigger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tabsync/tabsync/internal/cache"
	"github.com/tabsync/tabsync/internal/db"
)

type mockStore struct {
	mu          sync.Mutex
	automations []db.Automation
	stamped     map[string]time.Time
}

func (m *mockStore) GetActiveAutomations() ([]db.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.automations, nil
}

func (m *mockStore) UpdateLastSynced(id string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stamped == nil {
		m.stamped = make(map[string]time.Time)
	}
	m.stamped[id] = t
	return nil
}

type mockPipeline struct {
	mu        sync.Mutex
	syncs     int
	listCalls []string
}

func (m *mockPipeline) EnqueueSync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	return nil
}

func (m *mockPipeline) EnqueueListSpreadsheets(accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls = append(m.listCalls, accountID)
	return nil
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmptyCacheRepopulatesAndDefers(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{
		automations: []db.Automation{
			{ID: "auto-1", SourceDatabaseID: "db1", DestinationAccountID: "acct-dst", Interval: "5m", Active: true},
		},
	}
	pipeline := &mockPipeline{}
	c := cache.NewMemory()

	tr := New(DefaultConfig(), store, c, pipeline, testLogger(), &fixedClock{now: time.Now()})
	tr.Tick(ctx)

	// Nothing fires on the repopulating tick
	if pipeline.syncs != 0 {
		t.Errorf("expected no sync on cold tick, got %d", pipeline.syncs)
	}

	entries, _ := c.List(ctx)
	if len(entries) != 1 || entries[0].AutomationID != "auto-1" {
		t.Fatalf("expected cache repopulated, got %+v", entries)
	}
	if entries[0].DestinationAccountID != "acct-dst" {
		t.Errorf("expected destination account cached, got %+v", entries[0])
	}
}

func TestDueAutomationTriggersSync(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	store := &mockStore{}
	pipeline := &mockPipeline{}
	c := cache.NewMemory()
	c.Put(ctx, cache.Entry{
		AutomationID:         "auto-1",
		SourceDatabaseID:     "db1",
		DestinationAccountID: "acct-dst",
		Interval:             "5m",
		LastSyncedAt:         now.Add(-10 * time.Minute),
	})

	tr := New(DefaultConfig(), store, c, pipeline, testLogger(), &fixedClock{now: now})
	tr.Tick(ctx)

	if pipeline.syncs != 1 {
		t.Errorf("expected 1 sync, got %d", pipeline.syncs)
	}
	if len(pipeline.listCalls) != 1 || pipeline.listCalls[0] != "acct-dst" {
		t.Errorf("expected spreadsheet refresh for acct-dst, got %v", pipeline.listCalls)
	}

	// Stamped in both the store and the cache
	if !store.stamped["auto-1"].Equal(now) {
		t.Errorf("expected store stamp %v, got %v", now, store.stamped["auto-1"])
	}
	entries, _ := c.List(ctx)
	if !entries[0].LastSyncedAt.Equal(now) {
		t.Errorf("expected cache stamp %v, got %v", now, entries[0].LastSyncedAt)
	}
}

func TestNotDueAutomationDoesNothing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	store := &mockStore{}
	pipeline := &mockPipeline{}
	c := cache.NewMemory()
	c.Put(ctx, cache.Entry{
		AutomationID: "auto-1",
		Interval:     "1h",
		LastSyncedAt: now.Add(-10 * time.Minute),
	})

	tr := New(DefaultConfig(), store, c, pipeline, testLogger(), &fixedClock{now: now})
	tr.Tick(ctx)

	if pipeline.syncs != 0 {
		t.Errorf("expected no sync, got %d", pipeline.syncs)
	}
	if len(store.stamped) != 0 {
		t.Errorf("expected no stamps, got %v", store.stamped)
	}
}

func TestNeverSyncedAutomationIsDue(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}
	pipeline := &mockPipeline{}
	c := cache.NewMemory()
	c.Put(ctx, cache.Entry{AutomationID: "auto-1", Interval: "1h"})

	tr := New(DefaultConfig(), store, c, pipeline, testLogger(), &fixedClock{now: time.Now()})
	tr.Tick(ctx)

	if pipeline.syncs != 1 {
		t.Errorf("expected never-synced automation to be due, got %d syncs", pipeline.syncs)
	}
}

func TestBadIntervalIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}
	pipeline := &mockPipeline{}
	c := cache.NewMemory()
	c.Put(ctx, cache.Entry{AutomationID: "auto-bad", Interval: "5x"})
	c.Put(ctx, cache.Entry{AutomationID: "auto-ok", Interval: "5m"})

	tr := New(DefaultConfig(), store, c, pipeline, testLogger(), &fixedClock{now: time.Now()})
	tr.Tick(ctx)

	// The good automation still fires, the bad one is skipped not fatal
	if pipeline.syncs != 1 {
		t.Errorf("expected 1 sync, got %d", pipeline.syncs)
	}
	if len(store.stamped) != 1 {
		t.Errorf("expected only the valid automation stamped, got %v", store.stamped)
	}
}
