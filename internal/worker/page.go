package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tabsync/tabsync/internal/db"
	"github.com/tabsync/tabsync/internal/notion"
)

// =============================================================================
// Page Queue Handler
// =============================================================================

// handlePageFetch refreshes a single record from the source API and routes
// it onward. A record that vanished upstream is treated as a deletion.
func (w *Worker) handlePageFetch(ctx context.Context, p PageJob) error {
	page, err := w.source.RetrievePage(ctx, p.PageID)
	if err != nil {
		var apiErr *notion.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return w.recordGone(p.PageID)
		}
		return fmt.Errorf("worker: page fetch failed: %w", err)
	}

	a, err := w.store.GetAutomationBySourceDatabase(page.ParentID())
	if db.IsNotFound(err) {
		// The page moved out of any automated database
		return nil
	}
	if err != nil {
		return err
	}

	if err := w.cacheRecord(page, a.SourceAccountID); err != nil {
		return err
	}

	if page.Archived {
		return w.EnqueueDeleteRow(a.ID, page.ID)
	}

	return w.enqueueRecordWrite(a.ID, page.ID, p.EventType)
}

// recordGone tombstones a record deleted at the source and clears its
// destination row if the record was under an automation
func (w *Worker) recordGone(pageID string) error {
	entity, err := w.store.GetEntityBySourceID(pageID)
	if db.IsNotFound(err) {
		// Never seen it; nothing to clean up
		return nil
	}
	if err != nil {
		return err
	}

	if err := w.store.ArchiveEntity(pageID); err != nil {
		return err
	}

	if entity.ParentID == nil {
		return nil
	}

	a, err := w.store.GetAutomationBySourceDatabase(*entity.ParentID)
	if db.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return w.EnqueueDeleteRow(a.ID, pageID)
}
