package worker

import "fmt"

// =============================================================================
// Job Payloads
// =============================================================================
//
// Every queue carries one tagged variant type. The tag is always switched
// exhaustively; an unknown kind is a programming error and fails the job.

// SourceJobKind tags jobs on the source queue
type SourceJobKind int

const (
	SourceImport SourceJobKind = iota
	SourceSync
)

func (k SourceJobKind) String() string {
	switch k {
	case SourceImport:
		return "import"
	case SourceSync:
		return "sync"
	default:
		return "unknown"
	}
}

// ImportPayload drives one page of an initial import crawl. Cursor is
// empty on the first page; Fetched counts rows enqueued by earlier pages.
type ImportPayload struct {
	AutomationID string
	Cursor       string
	Fetched      int
}

// SyncPayload drives one page of an incremental search crawl
type SyncPayload struct {
	Cursor string
}

// SourceJob is the tagged variant for the source queue
type SourceJob struct {
	Kind   SourceJobKind
	Import *ImportPayload
	Sync   *SyncPayload
}

// PageJob fetches a single record from the source API. EventType carries
// the webhook event that triggered the fetch, empty for crawl-driven
// fetches.
type PageJob struct {
	PageID    string
	EventType string
}

// SheetsJobKind tags jobs on the destination queue
type SheetsJobKind int

const (
	SheetsWriteRow SheetsJobKind = iota
	SheetsDeleteRow
	SheetsWriteHeaders
	SheetsListSpreadsheets
)

func (k SheetsJobKind) String() string {
	switch k {
	case SheetsWriteRow:
		return "write-row"
	case SheetsDeleteRow:
		return "delete-row"
	case SheetsWriteHeaders:
		return "write-headers"
	case SheetsListSpreadsheets:
		return "list-spreadsheets"
	default:
		return "unknown"
	}
}

// WriteRowPayload writes one source record into its destination row.
// Import marks rows counted toward an initial import; EventType names
// the webhook event behind the write, when there was one.
type WriteRowPayload struct {
	AutomationID   string
	SourceRecordID string
	EventType      string
	Import         bool
}

// DeleteRowPayload clears the destination row of a removed record
type DeleteRowPayload struct {
	AutomationID   string
	SourceRecordID string
}

// WriteHeadersPayload rewrites the header row of a destination sheet
type WriteHeadersPayload struct {
	AutomationID string
}

// ListSpreadsheetsPayload refreshes one page of the account's visible
// spreadsheets
type ListSpreadsheetsPayload struct {
	AccountID string
	PageToken string
}

// SheetsJob is the tagged variant for the destination queue
type SheetsJob struct {
	Kind             SheetsJobKind
	WriteRow         *WriteRowPayload
	DeleteRow        *DeleteRowPayload
	WriteHeaders     *WriteHeadersPayload
	ListSpreadsheets *ListSpreadsheetsPayload
}

// LegacyJob runs one checksum-driven mapping sync for an automation
type LegacyJob struct {
	AutomationID string
}

// =============================================================================
// Deterministic Job IDs
// =============================================================================
//
// IDs are stable per logical operation so duplicate triggers collapse in
// the queue instead of double-writing.

func importJobID(automationID, cursor string) string {
	return fmt.Sprintf("import:%s:%s", automationID, cursor)
}

func syncJobID(cursor string) string {
	return fmt.Sprintf("sync:%s", cursor)
}

func pageJobID(pageID string) string {
	return fmt.Sprintf("page:%s", pageID)
}

func writeRowJobID(automationID, sourceRecordID string) string {
	return fmt.Sprintf("write:%s:%s", automationID, sourceRecordID)
}

func deleteRowJobID(automationID, sourceRecordID string) string {
	return fmt.Sprintf("delete:%s:%s", automationID, sourceRecordID)
}

func writeHeadersJobID(automationID string) string {
	return fmt.Sprintf("headers:%s", automationID)
}

func listSpreadsheetsJobID(accountID, pageToken string) string {
	return fmt.Sprintf("list:%s:%s", accountID, pageToken)
}

func legacyJobID(automationID string) string {
	return fmt.Sprintf("legacy:%s", automationID)
}
