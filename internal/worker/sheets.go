package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tabsync/tabsync/internal/db"
	"github.com/tabsync/tabsync/internal/notion"
	"github.com/tabsync/tabsync/internal/sheets"
	"github.com/tabsync/tabsync/internal/transform"
)

// =============================================================================
// Destination Queue Handlers
// =============================================================================

// rowPlan is everything needed to place one record in its sheet
type rowPlan struct {
	automation *db.Automation
	mapping    *db.MappingConfig
	columns    []db.ColumnMapping

	// cells holds the mapped column values only, in column order. The
	// identity and sync-stamp columns are appended at write time.
	cells []string

	idColumn   string // A1 letter of the identity column
	lastColumn string // A1 letter of the last written column
}

func (w *Worker) planRow(automationID string, entity *db.CachedEntity) (*rowPlan, error) {
	a, err := w.store.GetAutomation(automationID)
	if err != nil {
		return nil, err
	}

	mapping, err := w.store.GetMappingByAutomation(automationID)
	if err != nil {
		return nil, err
	}

	if !mapping.IncludeNotionID {
		return nil, fmt.Errorf("worker: mapping %s has no identity column, row correlation is impossible", mapping.ID)
	}

	columns, err := mapping.ColumnMappings()
	if err != nil {
		return nil, fmt.Errorf("worker: bad column mapping: %w", err)
	}
	sort.Slice(columns, func(i, j int) bool {
		return columns[i].ColumnIndex < columns[j].ColumnIndex
	})

	plan := &rowPlan{
		automation: a,
		mapping:    mapping,
		columns:    columns,
		idColumn:   sheets.ColumnLetter(len(columns)),
	}

	lastIndex := len(columns) // identity column
	if mapping.IncludeLastSync {
		lastIndex++
	}
	plan.lastColumn = sheets.ColumnLetter(lastIndex)

	if entity != nil {
		var props map[string]notion.Property
		if err := json.Unmarshal([]byte(entity.Properties), &props); err != nil {
			return nil, fmt.Errorf("worker: bad cached properties: %w", err)
		}

		plan.cells = make([]string, len(columns))
		for i, col := range columns {
			if prop, ok := props[col.FieldName]; ok {
				plan.cells[i] = transform.CellString(transform.Value(prop))
			}
		}
	}

	return plan, nil
}

// findRow scans the identity column for the record id. Returns 0 when the
// record has no row within the scan window.
func (w *Worker) findRow(ctx context.Context, plan *rowPlan, sourceRecordID string) (int, error) {
	start := plan.mapping.DataStartRow
	end := start + w.cfg.IdentityScanRows - 1
	scanRange := fmt.Sprintf("%s!%s%d:%s%d", plan.mapping.SheetName, plan.idColumn, start, plan.idColumn, end)

	vr, err := w.sheets.GetValues(ctx, plan.automation.SpreadsheetID, scanRange)
	if err != nil {
		return 0, fmt.Errorf("worker: identity scan failed: %w", err)
	}

	for i, row := range vr.Values {
		if len(row) > 0 && row[0] == sourceRecordID {
			return start + i, nil
		}
	}

	return 0, nil
}

// handleWriteRow places one record in its destination row: update in place
// when the row exists and changed, append when it is new, skip when the
// checksum matches.
func (w *Worker) handleWriteRow(ctx context.Context, p WriteRowPayload) error {
	entity, err := w.store.GetEntityBySourceID(p.SourceRecordID)
	if err != nil {
		return fmt.Errorf("worker: record not cached: %w", err)
	}

	plan, err := w.planRow(p.AutomationID, entity)
	if err != nil {
		return err
	}

	if entity.Archived {
		return w.EnqueueDeleteRow(p.AutomationID, p.SourceRecordID)
	}

	row, err := w.findRow(ctx, plan, p.SourceRecordID)
	if err != nil {
		return err
	}

	fullRow := append(append([]string{}, plan.cells...), p.SourceRecordID)
	if plan.mapping.IncludeLastSync {
		fullRow = append(fullRow, w.clock.Now().UTC().Format(time.RFC3339))
	}

	created := 0
	updated := 0

	switch {
	case row == 0:
		target := sheets.RowRange(plan.mapping.SheetName, "A", plan.lastColumn, plan.mapping.DataStartRow)
		landed, err := w.sheets.AppendValues(ctx, plan.automation.SpreadsheetID, target, [][]string{fullRow})
		if err != nil {
			return fmt.Errorf("worker: append failed: %w", err)
		}
		created = 1
		w.logger.Info("row created",
			"automationId", p.AutomationID,
			"recordId", p.SourceRecordID,
			"row", sheets.ParseRowNumber(landed),
			"event", p.EventType,
		)

	default:
		changed, err := w.rowChanged(ctx, plan, row)
		if err != nil {
			return err
		}
		if !changed {
			w.logger.Debug("row unchanged, skipping",
				"automationId", p.AutomationID,
				"recordId", p.SourceRecordID,
			)
			break
		}

		target := sheets.RowRange(plan.mapping.SheetName, "A", plan.lastColumn, row)
		if err := w.sheets.UpdateValues(ctx, plan.automation.SpreadsheetID, target, [][]string{fullRow}); err != nil {
			return fmt.Errorf("worker: update failed: %w", err)
		}
		updated = 1
		w.logger.Info("row updated",
			"automationId", p.AutomationID,
			"recordId", p.SourceRecordID,
			"row", row,
			"event", p.EventType,
		)
	}

	if err := w.store.UpdateLastSynced(p.AutomationID, w.clock.Now()); err != nil {
		return err
	}

	if created+updated > 0 {
		w.stats.Record(p.AutomationID, created, updated, 0)
	}

	// Import accounting includes skipped rows; the record was processed
	// either way
	if p.Import {
		return w.tracker.RecordProcessed(p.AutomationID)
	}

	return nil
}

// rowChanged compares the checksum of the mapped cells already in the
// sheet against the incoming ones. The identity and sync-stamp columns are
// excluded: one never changes, the other always would.
func (w *Worker) rowChanged(ctx context.Context, plan *rowPlan, row int) (bool, error) {
	if len(plan.cells) == 0 {
		return false, nil
	}

	mappedLast := sheets.ColumnLetter(len(plan.columns) - 1)
	target := sheets.RowRange(plan.mapping.SheetName, "A", mappedLast, row)

	vr, err := w.sheets.GetValues(ctx, plan.automation.SpreadsheetID, target)
	if err != nil {
		return false, fmt.Errorf("worker: row read-back failed: %w", err)
	}

	existing := make([]string, len(plan.cells))
	if len(vr.Values) > 0 {
		copy(existing, vr.Values[0])
	}

	return transform.ChecksumStrings(existing) != transform.ChecksumStrings(plan.cells), nil
}

// handleDeleteRow clears the destination row of a removed record. The row
// itself stays so other rows keep their positions.
func (w *Worker) handleDeleteRow(ctx context.Context, p DeleteRowPayload) error {
	plan, err := w.planRow(p.AutomationID, nil)
	if err != nil {
		return err
	}

	row, err := w.findRow(ctx, plan, p.SourceRecordID)
	if err != nil {
		return err
	}

	if row == 0 {
		w.logger.Debug("no destination row to delete",
			"automationId", p.AutomationID,
			"recordId", p.SourceRecordID,
		)
		return nil
	}

	target := sheets.RowRange(plan.mapping.SheetName, "A", plan.lastColumn, row)
	if err := w.sheets.ClearValues(ctx, plan.automation.SpreadsheetID, target); err != nil {
		return fmt.Errorf("worker: clear failed: %w", err)
	}

	w.logger.Info("row deleted",
		"automationId", p.AutomationID,
		"recordId", p.SourceRecordID,
		"row", row,
	)

	if err := w.store.UpdateLastSynced(p.AutomationID, w.clock.Now()); err != nil {
		return err
	}

	w.stats.Record(p.AutomationID, 0, 0, 1)
	return nil
}

// handleWriteHeaders overwrites the header row from the column mapping
func (w *Worker) handleWriteHeaders(ctx context.Context, p WriteHeadersPayload) error {
	plan, err := w.planRow(p.AutomationID, nil)
	if err != nil {
		return err
	}

	headers := make([]string, 0, len(plan.columns)+2)
	for _, col := range plan.columns {
		headers = append(headers, col.FieldName)
	}
	headers = append(headers, "Notion ID")
	if plan.mapping.IncludeLastSync {
		headers = append(headers, "Last Synced")
	}

	target := sheets.RowRange(plan.mapping.SheetName, "A", plan.lastColumn, plan.mapping.HeaderRow)
	if err := w.sheets.UpdateValues(ctx, plan.automation.SpreadsheetID, target, [][]string{headers}); err != nil {
		return fmt.Errorf("worker: header write failed: %w", err)
	}

	w.logger.Info("headers written", "automationId", p.AutomationID, "columns", len(headers))
	return nil
}

// handleListSpreadsheets refreshes the cached spreadsheet list for an
// account, one page per job
func (w *Worker) handleListSpreadsheets(ctx context.Context, p ListSpreadsheetsPayload) error {
	list, err := w.sheets.ListSpreadsheets(ctx, p.PageToken)
	if err != nil {
		return fmt.Errorf("worker: spreadsheet listing failed: %w", err)
	}

	// An account with no visible spreadsheets clears its cache
	if p.PageToken == "" && len(list.Files) == 0 && list.NextPageToken == "" {
		return w.store.DeleteSpreadsheetsForAccount(p.AccountID)
	}

	for _, f := range list.Files {
		meta := &db.SpreadsheetMeta{
			ID:            uuid.NewString(),
			AccountID:     p.AccountID,
			SpreadsheetID: f.ID,
			Name:          f.Name,
		}
		if f.URL != "" {
			url := f.URL
			meta.URL = &url
		}
		if err := w.store.UpsertSpreadsheet(meta); err != nil {
			return err
		}
	}

	if list.NextPageToken != "" {
		next := SheetsJob{
			Kind: SheetsListSpreadsheets,
			ListSpreadsheets: &ListSpreadsheetsPayload{
				AccountID: p.AccountID,
				PageToken: list.NextPageToken,
			},
		}
		return w.enqueueSheets(listSpreadsheetsJobID(p.AccountID, list.NextPageToken), next)
	}

	return nil
}
