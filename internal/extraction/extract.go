package extraction

import (
	"regexp"
	"strings"

	"github.com/aelwyn/go-drafter/internal/domain"
)

const (
	// Sentinel runes stand in for delimiter characters that must not act
	// as column boundaries: a doubled pipe or an escaped pipe inside cell
	// content. They survive into cell values and are normalized away by
	// CleanRecords once all recovery passes have run.
	sentinelDoubled = "‖" // replaces "||"
	sentinelEscaped = "¦" // replaces "\|" and demoted stray pipes

	// lineBreak is the visible break token used when multi-line content
	// has to live inside a single table cell.
	lineBreak = "<br>"
)

var floatCellRe = regexp.MustCompile(`^\d+(\.\d+)?$`)

// Result carries the records recovered from one parse attempt together
// with the rows and cells the parse could not reconcile.
type Result struct {
	// Records holds the successfully built records in input order.
	Records []domain.Record

	// DefectiveLines are table rows whose column count could not be
	// reconciled with the schema. They are candidates for the recovery
	// pass, not errors.
	DefectiveLines []string

	// Mismatches are field-level coercion diagnostics. Each named cell
	// was degraded to an empty value in its record.
	Mismatches []SchemaMismatchError
}

// Mode identifies which structured layout a raw reply appears to carry.
type Mode int

const (
	// ModeTable treats the text as a pipe-delimited markdown table.
	ModeTable Mode = iota
	// ModeSections treats the text as labeled report sections.
	ModeSections
	// ModeJSON treats the text as a single fenced JSON document.
	ModeJSON
)

func (m Mode) String() string {
	switch m {
	case ModeSections:
		return "sections"
	case ModeJSON:
		return "json"
	default:
		return "table"
	}
}

// Detect chooses the parse mode for raw model output. Labeled sections
// take precedence over tables because section bodies routinely carry
// tables of their own; JSON is chosen only for a reply with exactly one
// fenced block and nothing table-like around it.
func Detect(text string) Mode {
	var tableRows, fenceRows, sectionRows int
	for _, line := range strings.Split(text, "\n") {
		s := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(s, "### ::"):
			sectionRows++
		case strings.HasPrefix(s, "```"):
			fenceRows++
		case strings.HasPrefix(s, "|") && strings.HasSuffix(s, "|"):
			tableRows++
		}
	}

	if tableRows == 0 && sectionRows == 0 && fenceRows == 2 {
		return ModeJSON
	}
	if sectionRows > 0 {
		return ModeSections
	}
	return ModeTable
}

// Extract dispatches raw model output to the parser matching its
// detected layout and returns the recovered records.
func Extract(text string, schema *domain.RecordSchema) (*Result, error) {
	switch Detect(text) {
	case ModeJSON:
		return ExtractJSON(text, schema)
	case ModeSections:
		return ExtractSections(text, schema)
	default:
		return ExtractTable(text, schema)
	}
}

var fieldCleaner = strings.NewReplacer(
	sentinelDoubled, "or",
	sentinelEscaped, "or",
	"||", "or",
	"|", "or",
	"\n", lineBreak,
)

// CleanRecords normalizes every string field of every record in place
// after all recovery passes have run. Surviving delimiter characters and
// sentinel runes become the word "or" and raw newlines become visible
// breaks, so any record can be rendered back into a single table row.
func CleanRecords(records []domain.Record) {
	for _, rec := range records {
		for k, v := range rec {
			if s, ok := v.(string); ok {
				rec[k] = fieldCleaner.Replace(s)
			}
		}
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isTruthyWord(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "1":
		return true
	}
	return false
}
