package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// =============================================================================
// Automation Cache
// =============================================================================
//
// The trigger loop reads active automations from a cache rather than the
// database on every tick. Backends are selected by DSN scheme.

var (
	// ErrNotImplemented indicates a recognized but unavailable backend
	ErrNotImplemented = errors.New("cache: backend not implemented")

	// ErrNotFound indicates the entry does not exist
	ErrNotFound = errors.New("cache: entry not found")
)

// Entry is the cached view of one active automation, enough for the
// trigger loop to decide whether a sync is due
type Entry struct {
	AutomationID         string    `json:"automation_id"`
	SourceDatabaseID     string    `json:"source_database_id"`
	DestinationAccountID string    `json:"destination_account_id"`
	Interval             string    `json:"interval"`
	LastSyncedAt         time.Time `json:"last_synced_at"`
}

// Cache stores automation entries keyed by automation id
type Cache interface {
	// List returns all cached entries. An empty cache returns an empty
	// slice, not an error.
	List(ctx context.Context) ([]Entry, error)

	// Put inserts or replaces an entry
	Put(ctx context.Context, e Entry) error

	// SetLastSynced updates the sync stamp of an existing entry
	SetLastSynced(ctx context.Context, automationID string, t time.Time) error

	// Delete removes an entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, automationID string) error
}

// New creates a cache backend from a DSN. Supported schemes:
//
//	memory://                     in-process map
//	dynamodb://<table>?region=x   DynamoDB table
//	redis://...                   recognized, not implemented
func New(dsn string) (Cache, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid dsn: %w", err)
	}

	switch u.Scheme {
	case "memory":
		return NewMemory(), nil
	case "dynamodb":
		table := u.Host
		if table == "" {
			return nil, fmt.Errorf("cache: dynamodb dsn missing table name")
		}
		return NewDynamo(table, u.Query().Get("region"))
	case "redis":
		return nil, fmt.Errorf("cache: redis: %w", ErrNotImplemented)
	default:
		return nil, fmt.Errorf("cache: unknown scheme %q", u.Scheme)
	}
}
