package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Row Mapping Operations (legacy sync path)
// =============================================================================

// UpsertRowMapping records or updates the destination row for a source
// record. Natural key: (automation_id, source_record_id), at most one
// destination row represents a given source record.
func (db *DB) UpsertRowMapping(m *RowMapping) error {
	m.UpdatedAt = time.Now()

	query := `
		INSERT INTO row_mappings (id, automation_id, source_record_id, row_number, checksum, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(automation_id, source_record_id) DO UPDATE SET
			row_number = excluded.row_number,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at
	`

	_, err := db.Exec(query,
		m.ID,
		m.AutomationID,
		m.SourceRecordID,
		m.RowNumber,
		m.Checksum,
		m.UpdatedAt,
	)
	return err
}

// GetRowMapping retrieves the mapping for a source record
func (db *DB) GetRowMapping(automationID, sourceRecordID string) (*RowMapping, error) {
	m := &RowMapping{}

	query := `
		SELECT id, automation_id, source_record_id, row_number, checksum, updated_at
		FROM row_mappings
		WHERE automation_id = ? AND source_record_id = ?
	`

	err := db.QueryRow(query, automationID, sourceRecordID).Scan(
		&m.ID,
		&m.AutomationID,
		&m.SourceRecordID,
		&m.RowNumber,
		&m.Checksum,
		&m.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return m, nil
}

// MaxMappedRow returns the highest mapped destination row for an
// automation, or 0 when no rows are mapped yet
func (db *DB) MaxMappedRow(automationID string) (int, error) {
	var max int

	query := `
		SELECT COALESCE(MAX(row_number), 0)
		FROM row_mappings
		WHERE automation_id = ?
	`

	if err := db.QueryRow(query, automationID).Scan(&max); err != nil {
		return 0, err
	}

	return max, nil
}

// DeleteRowMapping removes the mapping for a source record
func (db *DB) DeleteRowMapping(automationID, sourceRecordID string) error {
	query := `DELETE FROM row_mappings WHERE automation_id = ? AND source_record_id = ?`

	result, err := db.Exec(query, automationID, sourceRecordID)
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
