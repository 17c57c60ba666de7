package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Cached Entity Operations
// =============================================================================

const entityColumns = `
	id, source_id, parent_id, type, title, properties, archived,
	account_id, workspace_id, created_time, last_edited_time, created_at, updated_at
`

func scanEntity(row interface{ Scan(...any) error }) (*CachedEntity, error) {
	e := &CachedEntity{}

	err := row.Scan(
		&e.ID,
		&e.SourceID,
		&e.ParentID,
		&e.Type,
		&e.Title,
		&e.Properties,
		&e.Archived,
		&e.AccountID,
		&e.WorkspaceID,
		&e.CreatedTime,
		&e.LastEditedTime,
		&e.CreatedAt,
		&e.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return e, nil
}

// UpsertEntity inserts a fetched source record or, when the source id
// already exists, overwrites everything except identity and creation
// metadata. Source id is the unique key.
func (db *DB) UpsertEntity(e *CachedEntity) error {
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now

	query := `
		INSERT INTO cached_entities (` + entityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			parent_id = excluded.parent_id,
			type = excluded.type,
			title = excluded.title,
			properties = excluded.properties,
			archived = excluded.archived,
			last_edited_time = excluded.last_edited_time,
			updated_at = excluded.updated_at
	`

	_, err := db.Exec(query,
		e.ID,
		e.SourceID,
		e.ParentID,
		e.Type,
		e.Title,
		e.Properties,
		e.Archived,
		e.AccountID,
		e.WorkspaceID,
		e.CreatedTime,
		e.LastEditedTime,
		e.CreatedAt,
		e.UpdatedAt,
	)
	return err
}

// GetEntityBySourceID retrieves a cached entity by its source-system id
func (db *DB) GetEntityBySourceID(sourceID string) (*CachedEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM cached_entities WHERE source_id = ?`
	return scanEntity(db.QueryRow(query, sourceID))
}

// GetEntitiesByParent retrieves all cached entities under a parent source id
func (db *DB) GetEntitiesByParent(parentSourceID string) ([]CachedEntity, error) {
	query := `
		SELECT ` + entityColumns + `
		FROM cached_entities
		WHERE parent_id = ?
		ORDER BY last_edited_time DESC
	`

	rows, err := db.Query(query, parentSourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []CachedEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil
	if entities == nil {
		entities = []CachedEntity{}
	}

	return entities, nil
}

// ArchiveEntity marks a cached entity as archived without removing it.
// Tombstoning keeps the correlation history after a destination delete.
func (db *DB) ArchiveEntity(sourceID string) error {
	query := `
		UPDATE cached_entities
		SET archived = ?, updated_at = ?
		WHERE source_id = ?
	`

	result, err := db.Exec(query, true, time.Now(), sourceID)
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
