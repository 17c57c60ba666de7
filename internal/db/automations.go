package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Automation Operations
// =============================================================================

const automationColumns = `
	id, name, active, polling_interval, source_account_id, destination_account_id,
	spreadsheet_id, source_database_id, last_synced_at,
	import_status, import_started_at, import_completed_at,
	import_total_rows, import_processed_rows, created_at, updated_at
`

func scanAutomation(row interface{ Scan(...any) error }) (*Automation, error) {
	a := &Automation{}

	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Active,
		&a.Interval,
		&a.SourceAccountID,
		&a.DestinationAccountID,
		&a.SpreadsheetID,
		&a.SourceDatabaseID,
		&a.LastSyncedAt,
		&a.ImportStatus,
		&a.ImportStartedAt,
		&a.ImportCompletedAt,
		&a.ImportTotalRows,
		&a.ImportProcessedRows,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return a, nil
}

// CreateAutomation creates a new automation
func (db *DB) CreateAutomation(a *Automation) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.ImportStatus == "" {
		a.ImportStatus = ImportPending
	}

	query := `
		INSERT INTO automations (` + automationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		a.ID,
		a.Name,
		a.Active,
		a.Interval,
		a.SourceAccountID,
		a.DestinationAccountID,
		a.SpreadsheetID,
		a.SourceDatabaseID,
		a.LastSyncedAt,
		a.ImportStatus,
		a.ImportStartedAt,
		a.ImportCompletedAt,
		a.ImportTotalRows,
		a.ImportProcessedRows,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return err
}

// GetAutomation retrieves an automation by ID
func (db *DB) GetAutomation(id string) (*Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE id = ?`
	return scanAutomation(db.QueryRow(query, id))
}

// GetAutomationBySourceDatabase retrieves the active automation configured
// for the given source database id, if any
func (db *DB) GetAutomationBySourceDatabase(sourceDatabaseID string) (*Automation, error) {
	query := `
		SELECT ` + automationColumns + `
		FROM automations
		WHERE source_database_id = ? AND active = ?
		LIMIT 1
	`
	return scanAutomation(db.QueryRow(query, sourceDatabaseID, true))
}

// GetActiveAutomations retrieves all active automations
func (db *DB) GetActiveAutomations() ([]Automation, error) {
	query := `
		SELECT ` + automationColumns + `
		FROM automations
		WHERE active = ?
		ORDER BY created_at
	`

	rows, err := db.Query(query, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var automations []Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		automations = append(automations, *a)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil
	if automations == nil {
		automations = []Automation{}
	}

	return automations, nil
}

// UpdateLastSynced stamps the automation's last sync time
func (db *DB) UpdateLastSynced(id string, t time.Time) error {
	query := `
		UPDATE automations
		SET last_synced_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := db.Exec(query, t, time.Now(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// =============================================================================
// Import State Operations
// =============================================================================
//
// The import sub-state is a small state machine:
//
//   pending → importing → completed | failed
//
// Transitions are guarded by WHERE clauses on the current status so
// concurrent workers cannot move the machine backwards.

// BeginImport moves an automation into the importing state, resetting the
// row counters. A user-triggered import may restart from any terminal state.
func (db *DB) BeginImport(id string, now time.Time) error {
	query := `
		UPDATE automations
		SET import_status = ?, import_started_at = ?, import_completed_at = NULL,
		    import_total_rows = NULL, import_processed_rows = 0, updated_at = ?
		WHERE id = ?
	`

	result, err := db.Exec(query, ImportImporting, now, now, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// FinalizeImportTotal records the total row count once pagination stops.
// Only valid while importing.
func (db *DB) FinalizeImportTotal(id string, total int) error {
	query := `
		UPDATE automations
		SET import_total_rows = ?, updated_at = ?
		WHERE id = ? AND import_status = ?
	`

	result, err := db.Exec(query, total, time.Now(), id, ImportImporting)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrStaleState
	}

	return nil
}

// IncrementImportProcessed atomically advances the processed-row counter by
// one and returns the counter pair as of just after the increment. The
// increment is a single UPDATE so concurrent write-row workers cannot lose
// updates. Returns ErrStaleState when the automation is not importing.
func (db *DB) IncrementImportProcessed(id string) (processed int, total *int, err error) {
	query := `
		UPDATE automations
		SET import_processed_rows = import_processed_rows + 1, updated_at = ?
		WHERE id = ? AND import_status = ?
	`

	result, err := db.Exec(query, time.Now(), id, ImportImporting)
	if err != nil {
		return 0, nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, nil, err
	}

	if rows == 0 {
		return 0, nil, ErrStaleState
	}

	// Re-read the counter pair for the completion check
	readQuery := `
		SELECT import_processed_rows, import_total_rows
		FROM automations
		WHERE id = ?
	`

	err = db.QueryRow(readQuery, id).Scan(&processed, &total)
	if err == sql.ErrNoRows {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, err
	}

	return processed, total, nil
}

// CompleteImport moves an importing automation to completed
func (db *DB) CompleteImport(id string, now time.Time) error {
	query := `
		UPDATE automations
		SET import_status = ?, import_completed_at = ?, updated_at = ?
		WHERE id = ? AND import_status = ?
	`

	result, err := db.Exec(query, ImportCompleted, now, now, id, ImportImporting)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrStaleState
	}

	return nil
}

// FailImport moves a pending or importing automation to failed. Terminal:
// only a fresh BeginImport leaves this state.
func (db *DB) FailImport(id string, now time.Time) error {
	query := `
		UPDATE automations
		SET import_status = ?, import_completed_at = ?, updated_at = ?
		WHERE id = ? AND import_status IN (?, ?)
	`

	result, err := db.Exec(query, ImportFailed, now, now, id, ImportPending, ImportImporting)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrStaleState
	}

	return nil
}
