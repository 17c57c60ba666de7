package db

// =============================================================================
// Sync Stats Operations
// =============================================================================

// InsertSyncStats writes a batch of flushed sync activity counters
func (db *DB) InsertSyncStats(stats []SyncStat) error {
	if len(stats) == 0 {
		return nil
	}

	return db.WithTransaction(func(tx *Tx) error {
		query := `
			INSERT INTO sync_stats (id, automation_id, rows_created, rows_updated, rows_deleted, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`

		for _, s := range stats {
			_, err := tx.Exec(query,
				s.ID,
				s.AutomationID,
				s.RowsCreated,
				s.RowsUpdated,
				s.RowsDeleted,
				s.RecordedAt,
			)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// GetSyncStats retrieves recent sync activity for an automation
func (db *DB) GetSyncStats(automationID string, limit int) ([]SyncStat, error) {
	query := `
		SELECT id, automation_id, rows_created, rows_updated, rows_deleted, recorded_at
		FROM sync_stats
		WHERE automation_id = ?
		ORDER BY recorded_at DESC
		LIMIT ?
	`

	rows, err := db.Query(query, automationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []SyncStat
	for rows.Next() {
		var s SyncStat
		err := rows.Scan(
			&s.ID,
			&s.AutomationID,
			&s.RowsCreated,
			&s.RowsUpdated,
			&s.RowsDeleted,
			&s.RecordedAt,
		)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil
	if stats == nil {
		stats = []SyncStat{}
	}

	return stats, nil
}
