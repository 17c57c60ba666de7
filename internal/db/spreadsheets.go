package db

import (
	"time"
)

// =============================================================================
// Spreadsheet Metadata Operations
// =============================================================================

// UpsertSpreadsheet inserts or refreshes cached metadata for one visible
// spreadsheet. Natural key: (account_id, spreadsheet_id).
func (db *DB) UpsertSpreadsheet(s *SpreadsheetMeta) error {
	s.UpdatedAt = time.Now()

	query := `
		INSERT INTO spreadsheets (id, account_id, spreadsheet_id, name, url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, spreadsheet_id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			updated_at = excluded.updated_at
	`

	_, err := db.Exec(query,
		s.ID,
		s.AccountID,
		s.SpreadsheetID,
		s.Name,
		s.URL,
		s.UpdatedAt,
	)
	return err
}

// ListSpreadsheetsForAccount retrieves all cached spreadsheet metadata for
// an account
func (db *DB) ListSpreadsheetsForAccount(accountID string) ([]SpreadsheetMeta, error) {
	query := `
		SELECT id, account_id, spreadsheet_id, name, url, updated_at
		FROM spreadsheets
		WHERE account_id = ?
		ORDER BY name
	`

	rows, err := db.Query(query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sheets []SpreadsheetMeta
	for rows.Next() {
		var s SpreadsheetMeta
		err := rows.Scan(
			&s.ID,
			&s.AccountID,
			&s.SpreadsheetID,
			&s.Name,
			&s.URL,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, s)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil
	if sheets == nil {
		sheets = []SpreadsheetMeta{}
	}

	return sheets, nil
}

// DeleteSpreadsheetsForAccount removes all cached metadata for an account.
// Used when a listing returns zero visible spreadsheets: the cache is
// reconciled, not merely appended to.
func (db *DB) DeleteSpreadsheetsForAccount(accountID string) error {
	query := `DELETE FROM spreadsheets WHERE account_id = ?`

	_, err := db.Exec(query, accountID)
	return err
}
