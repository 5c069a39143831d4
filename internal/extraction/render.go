package extraction

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aelwyn/go-drafter/internal/domain"
)

// RenderTable serializes records into a markdown table shaped by schema.
// Field descriptions become column headers, falling back to field names,
// and multi-line values fold onto one physical row with visible breaks.
// Fields named in excluded are dropped from both header and rows.
//
// Cleaned records survive a render and re-extract cycle unchanged, which
// is what lets drafts be stored as tables and rehydrated later.
func RenderTable(schema *domain.RecordSchema, records []domain.Record, excluded ...string) string {
	if len(records) == 0 {
		return "No data available."
	}

	skip := make(map[string]bool, len(excluded))
	for _, name := range excluded {
		skip[name] = true
	}

	var headers []string
	var fields []domain.FieldSpec
	for _, f := range schema.Fields {
		if skip[f.Name] {
			continue
		}
		fields = append(fields, f)
		h := f.Description
		if h == "" {
			h = f.Name
		}
		headers = append(headers, h)
	}

	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", utf8.RuneCountInString(h))
	}

	rows := make([]string, 0, len(records)+2)
	rows = append(rows, "| "+strings.Join(headers, " | ")+" |")
	rows = append(rows, "| "+strings.Join(dashes, " | ")+" |")
	for _, rec := range records {
		cells := make([]string, len(fields))
		for i, f := range fields {
			cells[i] = strings.ReplaceAll(fieldString(rec[f.Name]), "\n", lineBreak)
		}
		rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
	}
	return strings.Join(rows, "\n")
}

// fieldString renders a record value for a table cell. Unset and nil
// values render empty.
func fieldString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return fmt.Sprintf("%v", v)
}
