package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Mapping Config Operations
// =============================================================================

// CreateMappingConfig creates a mapping config for an automation
func (db *DB) CreateMappingConfig(m *MappingConfig) error {
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now

	query := `
		INSERT INTO mapping_configs (id, automation_id, sheet_name, header_row, data_start_row,
			include_notion_id, include_last_sync, columns, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		m.ID,
		m.AutomationID,
		m.SheetName,
		m.HeaderRow,
		m.DataStartRow,
		m.IncludeNotionID,
		m.IncludeLastSync,
		m.Columns,
		m.CreatedAt,
		m.UpdatedAt,
	)
	return err
}

// GetMappingByAutomation retrieves the mapping config for an automation
func (db *DB) GetMappingByAutomation(automationID string) (*MappingConfig, error) {
	m := &MappingConfig{}

	query := `
		SELECT id, automation_id, sheet_name, header_row, data_start_row,
			include_notion_id, include_last_sync, columns, created_at, updated_at
		FROM mapping_configs
		WHERE automation_id = ?
	`

	err := db.QueryRow(query, automationID).Scan(
		&m.ID,
		&m.AutomationID,
		&m.SheetName,
		&m.HeaderRow,
		&m.DataStartRow,
		&m.IncludeNotionID,
		&m.IncludeLastSync,
		&m.Columns,
		&m.CreatedAt,
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
