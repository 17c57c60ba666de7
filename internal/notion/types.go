package notion

import (
	"encoding/json"
	"time"
)

// RichText is one fragment of a title or rich_text property
type RichText struct {
	PlainText string `json:"plain_text"`
}

// SelectOption is a select, multi_select or status option
type SelectOption struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// DateValue holds a date property value, optionally a range
type DateValue struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

// User is a workspace member referenced by people/created_by/last_edited_by
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// FileRef holds the URL of an uploaded or external file
type FileRef struct {
	URL string `json:"url"`
}

// File is one entry of a files property
type File struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"` // "file" or "external"
	File     *FileRef `json:"file,omitempty"`
	External *FileRef `json:"external,omitempty"`
}

// Relation references a page in a related database
type Relation struct {
	ID string `json:"id"`
}

// FormulaValue is a computed formula result, discriminated by Type
type FormulaValue struct {
	Type    string     `json:"type"` // "string", "number", "boolean", "date"
	String  *string    `json:"string,omitempty"`
	Number  *float64   `json:"number,omitempty"`
	Boolean *bool      `json:"boolean,omitempty"`
	Date    *DateValue `json:"date,omitempty"`
}

// RollupValue is an aggregated rollup result, discriminated by Type
type RollupValue struct {
	Type   string          `json:"type"` // "number", "date", "array"
	Number *float64        `json:"number,omitempty"`
	Date   *DateValue      `json:"date,omitempty"`
	Array  json.RawMessage `json:"array,omitempty"`
}

// UniqueIDValue is an auto-incrementing identifier with an optional prefix
type UniqueIDValue struct {
	Prefix *string `json:"prefix,omitempty"`
	Number float64 `json:"number"`
}

// Property is a single page property. Type discriminates which of the
// value fields is populated; all others are zero.
type Property struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`

	Title          []RichText     `json:"title,omitempty"`
	RichText       []RichText     `json:"rich_text,omitempty"`
	Number         *float64       `json:"number,omitempty"`
	Select         *SelectOption  `json:"select,omitempty"`
	MultiSelect    []SelectOption `json:"multi_select,omitempty"`
	Status         *SelectOption  `json:"status,omitempty"`
	Date           *DateValue     `json:"date,omitempty"`
	People         []User         `json:"people,omitempty"`
	Files          []File         `json:"files,omitempty"`
	Checkbox       *bool          `json:"checkbox,omitempty"`
	URL            *string        `json:"url,omitempty"`
	Email          *string        `json:"email,omitempty"`
	PhoneNumber    *string        `json:"phone_number,omitempty"`
	Formula        *FormulaValue  `json:"formula,omitempty"`
	Relation       []Relation     `json:"relation,omitempty"`
	Rollup         *RollupValue   `json:"rollup,omitempty"`
	CreatedTime    *string        `json:"created_time,omitempty"`
	CreatedBy      *User          `json:"created_by,omitempty"`
	LastEditedTime *string        `json:"last_edited_time,omitempty"`
	LastEditedBy   *User          `json:"last_edited_by,omitempty"`
	UniqueID       *UniqueIDValue `json:"unique_id,omitempty"`
}

// Parent identifies the container of a page or database
type Parent struct {
	Type       string `json:"type"` // "database_id", "page_id", "workspace"
	DatabaseID string `json:"database_id,omitempty"`
	PageID     string `json:"page_id,omitempty"`
	Workspace  bool   `json:"workspace,omitempty"`
}

// Page is a page or database object returned by the API.
// Object distinguishes the two ("page" or "database").
type Page struct {
	ID             string              `json:"id"`
	Object         string              `json:"object"`
	CreatedTime    time.Time           `json:"created_time"`
	LastEditedTime time.Time           `json:"last_edited_time"`
	Archived       bool                `json:"archived"`
	Parent         Parent              `json:"parent"`
	Properties     map[string]Property `json:"properties,omitempty"`
	URL            string              `json:"url,omitempty"`
}

// ParentID returns the ID of the page's parent container, or empty for
// workspace-level objects.
func (p *Page) ParentID() string {
	switch p.Parent.Type {
	case "database_id":
		return p.Parent.DatabaseID
	case "page_id":
		return p.Parent.PageID
	default:
		return ""
	}
}

// ListResponse is the shared shape of search and database query results
type ListResponse struct {
	Object     string  `json:"object"`
	Results    []Page  `json:"results"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}
