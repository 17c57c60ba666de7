package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tabsync/tabsync/internal/db"
	"github.com/tabsync/tabsync/internal/notion"
	"github.com/tabsync/tabsync/internal/transform"
)

// =============================================================================
// Source Queue Handlers
// =============================================================================

// handleImport processes one page of an initial import crawl. Continuation
// pages are enqueued explicitly; no out-of-band listener resumes the crawl.
func (w *Worker) handleImport(ctx context.Context, p ImportPayload) error {
	a, err := w.store.GetAutomation(p.AutomationID)
	if err != nil {
		return fmt.Errorf("worker: import lookup failed: %w", err)
	}

	resp, err := w.source.QueryDatabase(ctx, a.SourceDatabaseID, p.Cursor, w.cfg.ImportPageSize)
	if err != nil {
		return fmt.Errorf("worker: import query failed: %w", err)
	}

	if p.Cursor == "" {
		// First page: the header row goes out before any data rows
		headers := SheetsJob{
			Kind:         SheetsWriteHeaders,
			WriteHeaders: &WriteHeadersPayload{AutomationID: a.ID},
		}
		if err := w.enqueueSheets(writeHeadersJobID(a.ID), headers); err != nil {
			return err
		}

		// An empty database completes the import on the spot
		if len(resp.Results) == 0 && !resp.HasMore {
			return w.tracker.FinalizeTotal(a.ID, 0)
		}
	}

	fetched := p.Fetched
	for i := range resp.Results {
		if fetched >= w.cfg.ImportMaxRows {
			break
		}
		page := &resp.Results[i]

		if err := w.cacheRecord(page, a.SourceAccountID); err != nil {
			return err
		}

		write := SheetsJob{
			Kind: SheetsWriteRow,
			WriteRow: &WriteRowPayload{
				AutomationID:   a.ID,
				SourceRecordID: page.ID,
				Import:         true,
			},
		}
		if err := w.enqueueSheets(writeRowJobID(a.ID, page.ID), write); err != nil {
			return err
		}
		fetched++
	}

	if resp.HasMore && resp.NextCursor != nil && fetched < w.cfg.ImportMaxRows {
		next := SourceJob{
			Kind: SourceImport,
			Import: &ImportPayload{
				AutomationID: a.ID,
				Cursor:       *resp.NextCursor,
				Fetched:      fetched,
			},
		}
		return w.enqueueSource(importJobID(a.ID, *resp.NextCursor), next)
	}

	w.logger.Info("import crawl finished",
		"automationId", a.ID,
		"totalRows", fetched,
	)
	return w.tracker.FinalizeTotal(a.ID, fetched)
}

// handleSync processes one page of an incremental search crawl across the
// whole workspace
func (w *Worker) handleSync(ctx context.Context, p SyncPayload) error {
	resp, err := w.source.Search(ctx, p.Cursor, notion.MaxPageSize)
	if err != nil {
		return fmt.Errorf("worker: search failed: %w", err)
	}

	for i := range resp.Results {
		page := &resp.Results[i]

		a, err := w.store.GetAutomationBySourceDatabase(page.ParentID())
		if db.IsNotFound(err) {
			// Not under any active automation
			continue
		}
		if err != nil {
			return err
		}

		// Untouched since the last sync; the checksum would skip it anyway
		if a.LastSyncedAt != nil && page.LastEditedTime.Before(*a.LastSyncedAt) {
			continue
		}

		if err := w.cacheRecord(page, a.SourceAccountID); err != nil {
			return err
		}

		if page.Archived {
			if err := w.EnqueueDeleteRow(a.ID, page.ID); err != nil {
				return err
			}
			continue
		}

		if err := w.enqueueRecordWrite(a.ID, page.ID, ""); err != nil {
			return err
		}
	}

	if resp.HasMore && resp.NextCursor != nil {
		next := SourceJob{Kind: SourceSync, Sync: &SyncPayload{Cursor: *resp.NextCursor}}
		return w.enqueueSource(syncJobID(*resp.NextCursor), next)
	}

	return nil
}

// =============================================================================
// Record Caching
// =============================================================================

// cacheRecord mirrors a source record into the local entity cache
func (w *Worker) cacheRecord(page *notion.Page, accountID string) error {
	props, err := json.Marshal(page.Properties)
	if err != nil {
		return fmt.Errorf("worker: failed to encode properties: %w", err)
	}

	parent := page.ParentID()
	e := &db.CachedEntity{
		ID:             uuid.NewString(),
		SourceID:       page.ID,
		Type:           db.EntityPage,
		Title:          pageTitle(page),
		Properties:     string(props),
		Archived:       page.Archived,
		AccountID:      accountID,
		CreatedTime:    page.CreatedTime,
		LastEditedTime: page.LastEditedTime,
	}
	if parent != "" {
		e.ParentID = &parent
	}

	return w.store.UpsertEntity(e)
}

func pageTitle(page *notion.Page) string {
	for _, prop := range page.Properties {
		if prop.Type == "title" {
			return transform.CellString(transform.Value(prop))
		}
	}
	return ""
}
