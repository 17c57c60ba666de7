package db

import (
	"encoding/json"
	"time"
)

// Import status values for Automation.ImportStatus.
// Transitions are monotonic: pending → importing → completed | failed.
// Only a fresh user-triggered import resets the machine.
const (
	ImportPending   = "pending"
	ImportImporting = "importing"
	ImportCompleted = "completed"
	ImportFailed    = "failed"
)

// Entity type values for CachedEntity.Type
const (
	EntityPage     = "page"
	EntityDatabase = "database"
)

// Account holds OAuth credentials for a connected source or destination
type Account struct {
	ID           string
	Provider     string // 'notion' or 'google'
	WorkspaceID  *string
	AccessToken  string
	RefreshToken *string
	TokenExpiry  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Automation is one configured sync link between a source database and a
// destination spreadsheet. Created by user action; the pipeline only
// mutates sync and import state, never deletes.
type Automation struct {
	ID                   string
	Name                 string
	Active               bool
	Interval             string // polling interval, e.g. "5m", "1h"
	SourceAccountID      string
	DestinationAccountID string
	SpreadsheetID        string
	SourceDatabaseID     string // source id of the synced database
	LastSyncedAt         *time.Time

	// Bulk import sub-state
	ImportStatus        string
	ImportStartedAt     *time.Time
	ImportCompletedAt   *time.Time
	ImportTotalRows     *int // nil until the total is known
	ImportProcessedRows int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ColumnMapping maps one source field to one destination column
type ColumnMapping struct {
	FieldID      string `json:"field_id"`
	FieldName    string `json:"field_name"`
	FieldType    string `json:"field_type"`
	ColumnIndex  int    `json:"column_index"`
	ColumnLetter string `json:"column_letter"`
}

// MappingConfig is the per-automation column layout. Read-only to the
// pipeline and immutable during a sync cycle.
type MappingConfig struct {
	ID              string
	AutomationID    string
	SheetName       string
	HeaderRow       int
	DataStartRow    int
	IncludeNotionID bool
	IncludeLastSync bool
	Columns         string // JSON array of ColumnMapping, ordered
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ColumnMappings decodes the ordered column list
func (m *MappingConfig) ColumnMappings() ([]ColumnMapping, error) {
	var cols []ColumnMapping
	if err := json.Unmarshal([]byte(m.Columns), &cols); err != nil {
		return nil, err
	}
	return cols, nil
}

// CachedEntity is the durable snapshot of one fetched source record
type CachedEntity struct {
	ID             string // internal id
	SourceID       string // source-system id, unique
	ParentID       *string
	Type           string // 'page' or 'database'
	Title          string
	Properties     string // raw properties payload, JSON
	Archived       bool
	AccountID      string
	WorkspaceID    *string
	CreatedTime    time.Time
	LastEditedTime time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SpreadsheetMeta is cached metadata for one destination spreadsheet
// visible to an account. Natural key: (account_id, spreadsheet_id).
type SpreadsheetMeta struct {
	ID            string
	AccountID     string
	SpreadsheetID string
	Name          string
	URL           *string
	UpdatedAt     time.Time
}

// RowMapping correlates a source record to a destination row number with a
// stored checksum. Legacy alternative to the identity-column scan; at most
// one destination row per (automation, source record).
type RowMapping struct {
	ID             string
	AutomationID   string
	SourceRecordID string
	RowNumber      int
	Checksum       string
	UpdatedAt      time.Time
}

// SyncStat is one flushed batch of sync activity counters for an automation
type SyncStat struct {
	ID           string
	AutomationID string
	RowsCreated  int
	RowsUpdated  int
	RowsDeleted  int
	RecordedAt   time.Time
}
