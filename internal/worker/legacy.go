package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tabsync/tabsync/internal/db"
	"github.com/tabsync/tabsync/internal/notion"
	"github.com/tabsync/tabsync/internal/sheets"
	"github.com/tabsync/tabsync/internal/transform"
)

// =============================================================================
// Legacy Mapping Sync
// =============================================================================
//
// The legacy path correlates records to rows through stored row mappings
// instead of an identity column, with a stored checksum per row. Kept for
// automations whose sheets predate the identity column.

func (w *Worker) handleLegacySync(ctx context.Context, p LegacyJob) error {
	a, err := w.store.GetAutomation(p.AutomationID)
	if err != nil {
		return err
	}

	mapping, err := w.store.GetMappingByAutomation(p.AutomationID)
	if err != nil {
		return err
	}

	columns, err := mapping.ColumnMappings()
	if err != nil {
		return fmt.Errorf("worker: bad column mapping: %w", err)
	}
	sort.Slice(columns, func(i, j int) bool {
		return columns[i].ColumnIndex < columns[j].ColumnIndex
	})
	lastCol := sheets.ColumnLetter(len(columns) - 1)

	entities, err := w.store.GetEntitiesByParent(a.SourceDatabaseID)
	if err != nil {
		return err
	}

	maxRow, err := w.store.MaxMappedRow(a.ID)
	if err != nil {
		return err
	}
	if maxRow < mapping.DataStartRow-1 {
		maxRow = mapping.DataStartRow - 1
	}

	created, updated, deleted := 0, 0, 0

	for i := range entities {
		entity := &entities[i]

		existing, err := w.store.GetRowMapping(a.ID, entity.SourceID)
		if err != nil && !db.IsNotFound(err) {
			return err
		}
		mapped := err == nil

		if entity.Archived {
			if !mapped {
				continue
			}
			target := sheets.RowRange(mapping.SheetName, "A", lastCol, existing.RowNumber)
			if err := w.sheets.ClearValues(ctx, a.SpreadsheetID, target); err != nil {
				return fmt.Errorf("worker: legacy clear failed: %w", err)
			}
			if err := w.store.DeleteRowMapping(a.ID, entity.SourceID); err != nil {
				return err
			}
			deleted++
			continue
		}

		values, err := legacyValues(columns, entity.Properties)
		if err != nil {
			return err
		}
		checksum := transform.Checksum(values)

		switch {
		case !mapped:
			maxRow++
			if err := w.writeLegacyRow(ctx, a, mapping, lastCol, maxRow, values); err != nil {
				return err
			}
			err = w.store.UpsertRowMapping(&db.RowMapping{
				ID:             uuid.NewString(),
				AutomationID:   a.ID,
				SourceRecordID: entity.SourceID,
				RowNumber:      maxRow,
				Checksum:       checksum,
			})
			if err != nil {
				return err
			}
			created++

		case existing.Checksum != checksum:
			if err := w.writeLegacyRow(ctx, a, mapping, lastCol, existing.RowNumber, values); err != nil {
				return err
			}
			err = w.store.UpsertRowMapping(&db.RowMapping{
				ID:             existing.ID,
				AutomationID:   a.ID,
				SourceRecordID: entity.SourceID,
				RowNumber:      existing.RowNumber,
				Checksum:       checksum,
			})
			if err != nil {
				return err
			}
			updated++
		}
		// Matching checksum: nothing to write
	}

	if created+updated+deleted > 0 {
		if err := w.store.UpdateLastSynced(a.ID, w.clock.Now()); err != nil {
			return err
		}
		w.stats.Record(a.ID, created, updated, deleted)
	}

	w.logger.Info("legacy sync finished",
		"automationId", a.ID,
		"created", created,
		"updated", updated,
		"deleted", deleted,
	)
	return nil
}

func (w *Worker) writeLegacyRow(ctx context.Context, a *db.Automation, mapping *db.MappingConfig, lastCol string, row int, values []transform.CellValue) error {
	cells := make([]string, len(values))
	for i, v := range values {
		cells[i] = transform.CellString(v)
	}

	target := sheets.RowRange(mapping.SheetName, "A", lastCol, row)
	if err := w.sheets.UpdateValues(ctx, a.SpreadsheetID, target, [][]string{cells}); err != nil {
		return fmt.Errorf("worker: legacy write failed: %w", err)
	}
	return nil
}

// legacyValues renders the mapped cell values for a cached record
func legacyValues(columns []db.ColumnMapping, propsJSON string) ([]transform.CellValue, error) {
	var props map[string]notion.Property
	if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
		return nil, fmt.Errorf("worker: bad cached properties: %w", err)
	}

	values := make([]transform.CellValue, len(columns))
	for i, col := range columns {
		if prop, ok := props[col.FieldName]; ok {
			values[i] = transform.Value(prop)
		} else {
			values[i] = ""
		}
	}

	return values, nil
}
