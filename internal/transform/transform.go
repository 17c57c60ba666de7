package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tabsync/tabsync/internal/notion"
)

// CellValue is a destination cell value: string, float64 or bool.
// Every transform is total; unsupported property types degrade to "" so a
// single unknown field can never fail a whole batch.
type CellValue any

// transformers is the dispatch table keyed by property type
var transformers = map[string]func(notion.Property) CellValue{
	"title":            transformTitle,
	"rich_text":        transformRichText,
	"number":           transformNumber,
	"select":           transformSelect,
	"multi_select":     transformMultiSelect,
	"status":           transformStatus,
	"date":             transformDate,
	"people":           transformPeople,
	"files":            transformFiles,
	"checkbox":         transformCheckbox,
	"url":              transformURL,
	"email":            transformEmail,
	"phone_number":     transformPhoneNumber,
	"formula":          transformFormula,
	"relation":         transformRelation,
	"rollup":           transformRollup,
	"created_time":     transformCreatedTime,
	"created_by":       transformCreatedBy,
	"last_edited_time": transformLastEditedTime,
	"last_edited_by":   transformLastEditedBy,
	"unique_id":        transformUniqueID,
}

// Value maps one typed property to a destination cell value
func Value(p notion.Property) CellValue {
	if fn, ok := transformers[p.Type]; ok {
		return fn(p)
	}
	return ""
}

// CellString renders a cell value the way it is written to the destination
func CellString(v CellValue) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

func transformTitle(p notion.Property) CellValue {
	return joinRichText(p.Title)
}

func transformRichText(p notion.Property) CellValue {
	return joinRichText(p.RichText)
}

func transformNumber(p notion.Property) CellValue {
	if p.Number == nil {
		return ""
	}
	return *p.Number
}

func transformSelect(p notion.Property) CellValue {
	if p.Select == nil {
		return ""
	}
	return p.Select.Name
}

func transformMultiSelect(p notion.Property) CellValue {
	names := make([]string, 0, len(p.MultiSelect))
	for _, opt := range p.MultiSelect {
		names = append(names, opt.Name)
	}
	return strings.Join(names, ", ")
}

func transformStatus(p notion.Property) CellValue {
	if p.Status == nil {
		return ""
	}
	return p.Status.Name
}

func transformDate(p notion.Property) CellValue {
	return dateString(p.Date)
}

func transformPeople(p notion.Property) CellValue {
	names := make([]string, 0, len(p.People))
	for _, u := range p.People {
		if u.Name != "" {
			names = append(names, u.Name)
		} else {
			names = append(names, u.ID)
		}
	}
	return strings.Join(names, ", ")
}

func transformFiles(p notion.Property) CellValue {
	urls := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		switch {
		case f.File != nil && f.File.URL != "":
			urls = append(urls, f.File.URL)
		case f.External != nil && f.External.URL != "":
			urls = append(urls, f.External.URL)
		case f.Name != "":
			urls = append(urls, f.Name)
		}
	}
	return strings.Join(urls, ", ")
}

func transformCheckbox(p notion.Property) CellValue {
	if p.Checkbox == nil {
		return false
	}
	return *p.Checkbox
}

func transformURL(p notion.Property) CellValue {
	return stringOrEmpty(p.URL)
}

func transformEmail(p notion.Property) CellValue {
	return stringOrEmpty(p.Email)
}

func transformPhoneNumber(p notion.Property) CellValue {
	return stringOrEmpty(p.PhoneNumber)
}

// transformFormula resolves by the formula's declared result type
func transformFormula(p notion.Property) CellValue {
	f := p.Formula
	if f == nil {
		return ""
	}
	switch f.Type {
	case "string":
		return stringOrEmpty(f.String)
	case "number":
		if f.Number == nil {
			return ""
		}
		return *f.Number
	case "boolean":
		if f.Boolean == nil {
			return false
		}
		return *f.Boolean
	case "date":
		return dateString(f.Date)
	default:
		return ""
	}
}

func transformRelation(p notion.Property) CellValue {
	ids := make([]string, 0, len(p.Relation))
	for _, r := range p.Relation {
		ids = append(ids, r.ID)
	}
	return strings.Join(ids, ", ")
}

// transformRollup resolves number and date rollups; array rollups degrade to
// the element count, which is what the dashboard renders anyway
func transformRollup(p notion.Property) CellValue {
	r := p.Rollup
	if r == nil {
		return ""
	}
	switch r.Type {
	case "number":
		if r.Number == nil {
			return ""
		}
		return *r.Number
	case "date":
		return dateString(r.Date)
	case "array":
		var elems []json.RawMessage
		if len(r.Array) > 0 {
			if err := json.Unmarshal(r.Array, &elems); err != nil {
				return ""
			}
		}
		return float64(len(elems))
	default:
		return ""
	}
}

func transformCreatedTime(p notion.Property) CellValue {
	return stringOrEmpty(p.CreatedTime)
}

func transformCreatedBy(p notion.Property) CellValue {
	return userString(p.CreatedBy)
}

func transformLastEditedTime(p notion.Property) CellValue {
	return stringOrEmpty(p.LastEditedTime)
}

func transformLastEditedBy(p notion.Property) CellValue {
	return userString(p.LastEditedBy)
}

func transformUniqueID(p notion.Property) CellValue {
	u := p.UniqueID
	if u == nil {
		return ""
	}
	number := strconv.FormatFloat(u.Number, 'f', -1, 64)
	if u.Prefix != nil && *u.Prefix != "" {
		return *u.Prefix + "-" + number
	}
	return number
}

// Helpers

func joinRichText(fragments []notion.RichText) string {
	var sb strings.Builder
	for _, f := range fragments {
		sb.WriteString(f.PlainText)
	}
	return sb.String()
}

// dateString renders a date, or "start → end" for ranges
func dateString(d *notion.DateValue) string {
	if d == nil || d.Start == "" {
		return ""
	}
	if d.End != nil && *d.End != "" {
		return d.Start + " → " + *d.End
	}
	return d.Start
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func userString(u *notion.User) string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
