package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process cache backend. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory creates an empty in-process cache
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]Entry),
	}
}

func (m *Memory) List(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}

	return entries, nil
}

func (m *Memory) Put(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[e.AutomationID] = e
	return nil
}

func (m *Memory) SetLastSynced(_ context.Context, automationID string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[automationID]
	if !ok {
		return ErrNotFound
	}

	e.LastSyncedAt = t
	m.entries[automationID] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, automationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, automationID)
	return nil
}
