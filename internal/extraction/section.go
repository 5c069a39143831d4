package extraction

import (
	"regexp"
	"strings"

	"github.com/aelwyn/go-drafter/internal/domain"
)

// sectionMarker opens a labeled report section.
const sectionMarker = "### ::"

// sectionHeadRe captures the label of a section marker line.
var sectionHeadRe = regexp.MustCompile(`(?s)` + sectionMarker + `\s*(.+?)\s*\n`)

// ExtractSections parses text laid out as labeled report sections. Each
// "### ::Label" marker starts a section whose body runs to the next
// marker or the end of the text. The schema's first field receives the
// label and its second field the body; both arrive trimmed.
//
// The layout needs two fields to land on, so a smaller schema is a
// structural failure and routes the text to the fallback path.
func ExtractSections(text string, schema *domain.RecordSchema) (*Result, error) {
	if schema.NumFields() < 2 {
		return nil, &StructuralError{Reason: "section layout needs at least two schema fields"}
	}
	labelField := schema.Fields[0].Name
	bodyField := schema.Fields[1].Name

	res := &Result{Records: []domain.Record{}}
	pos := 0
	for pos < len(text) {
		loc := sectionHeadRe.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		label := strings.TrimSpace(text[pos+loc[2] : pos+loc[3]])
		bodyStart := pos + loc[1]

		// The next section begins only at a marker that opens a line.
		bodyEnd := len(text)
		if next := strings.Index(text[bodyStart:], "\n"+sectionMarker); next >= 0 {
			bodyEnd = bodyStart + next
		}

		res.Records = append(res.Records, domain.Record{
			labelField: label,
			bodyField:  strings.TrimSpace(text[bodyStart:bodyEnd]),
		})
		if bodyEnd == len(text) {
			break
		}
		pos = bodyEnd
	}
	return res, nil
}
