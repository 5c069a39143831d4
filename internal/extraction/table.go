package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/aelwyn/go-drafter/internal/domain"
)

var (
	// dividerRowRe matches a table divider such as |---|:---:|.
	dividerRowRe = regexp.MustCompile(`^\|[\s:\-|]+\|$`)

	// rowSeamRe matches the seam between two rows that were glued onto
	// one physical line.
	rowSeamRe = regexp.MustCompile(`\|\s*` + lineBreak + `\s*\|`)
)

// terminatorPhrases are closing tags models append to tables. A row
// containing nothing else is formatting noise and is dropped. Longest
// phrase first so the shorter one never leaves a stray period behind.
var terminatorPhrases = []string{"end of report.", "end of report"}

var terminatorRes = func() []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(terminatorPhrases))
	for i, p := range terminatorPhrases {
		res[i] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(p))
	}
	return res
}()

// ExtractTable parses pipe-delimited markdown into records shaped by
// schema. Column position, not header text, decides the mapping: the
// first column feeds the schema's first field and so on, extra columns
// are ignored, and missing trailing columns leave fields unset.
//
// The parser tolerates what models actually produce: prose before and
// after the table, divider rows between data rows, tables without header
// rows, rows broken across physical lines, escaped or doubled delimiters
// inside cells, and itemized continuation rows with an empty identifier
// cell, which fold into their parent row. Rows whose column count cannot
// be reconciled are segregated as defective lines for a recovery pass.
//
// A nil error with empty Records means a table skeleton was found but
// held no data rows. ErrNoStructure means nothing table-like was found
// at all; a StructuralError means the table could not be bounded or its
// column count determined.
func ExtractTable(text string, schema *domain.RecordSchema) (*Result, error) {
	clean, defective, err := sanitizeTable(text)
	if err != nil {
		return nil, err
	}

	// Group rows into table blocks. A divider directly under a single
	// accumulated row marks that row as a header and removes it.
	var blocks [][]string
	var current []string
	dividerSeen := false
	for _, line := range strings.Split(clean, "\n") {
		s := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(s, "|") && strings.HasSuffix(s, "|"):
			if isDividerRow(s) {
				dividerSeen = true
				if len(current) == 1 {
					current = nil
				}
				continue
			}
			current = append(current, s)
		case s == "":
			continue
		default:
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = nil
			}
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}

	if len(blocks) == 0 {
		if dividerSeen {
			return &Result{Records: []domain.Record{}, DefectiveLines: defective}, nil
		}
		return nil, ErrNoStructure
	}

	res := &Result{Records: []domain.Record{}, DefectiveLines: defective}
	for _, block := range blocks {
		rows := make([]string, len(block))
		for i, row := range block {
			rows[i] = strings.TrimSpace(strings.Trim(row, "|"))
		}
		rows = mergeItemizedRows(rows, 0)
		for _, row := range rows {
			rec, mismatches := buildRecord(row, schema)
			res.Records = append(res.Records, rec)
			res.Mismatches = append(res.Mismatches, mismatches...)
		}
	}
	return res, nil
}

// sanitizeTable bounds the table, rejoins broken rows, and removes rows
// that cannot be reconciled with the column count. It returns the cleaned
// text and the defective rows it removed.
func sanitizeTable(text string) (clean string, defective []string, err error) {
	text = strings.ReplaceAll(text, "||", sentinelDoubled)
	text = strings.ReplaceAll(text, `\|`, sentinelEscaped)

	// Trim everything before the first and after the last delimiter.
	first := strings.Index(text, "|")
	last := strings.LastIndex(text, "|")
	if first == -1 || first >= last {
		return "", nil, &StructuralError{Reason: "could not bound a table between '|' characters"}
	}
	trimmed := text[first : last+1]

	var cleanLines []string
	for _, line := range strings.Split(strings.TrimSpace(trimmed), "\n") {
		if strings.TrimSpace(line) != "" {
			cleanLines = append(cleanLines, line)
		}
	}

	// The divider row is the most reliable witness of the column count;
	// fall back to the first delimiter-bounded row.
	numCols := 0
	for _, line := range cleanLines {
		if dividerRowRe.MatchString(strings.TrimSpace(line)) {
			numCols = strings.Count(line, "|") - 1
			break
		}
	}
	if numCols == 0 {
		for _, line := range cleanLines {
			s := strings.TrimSpace(line)
			if strings.HasPrefix(s, "|") && strings.HasSuffix(s, "|") {
				numCols = strings.Count(line, "|") - 1
				break
			}
		}
	}
	if numCols == 0 {
		return "", nil, &StructuralError{Reason: "unable to determine column count from any row"}
	}

	// Collapse the text onto one line, then restore row boundaries only
	// where a delimiter sits on both sides of the seam. Content that was
	// broken mid-row stays inside its cell as a visible break.
	seamed := strings.ReplaceAll(strings.Join(cleanLines, "\n"), "\n", lineBreak)
	seamed = rowSeamRe.ReplaceAllString(seamed, "|\n|")

	var kept []string
	for _, line := range strings.Split(strings.TrimSpace(seamed), "\n") {
		if isTerminatorRow(line) {
			continue
		}
		if strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") {
			if len(innerCells(line)) != numCols {
				fixed := demoteStrayPipes(line)
				if len(innerCells(fixed)) != numCols {
					defective = append(defective, line)
					continue
				}
				kept = append(kept, strings.TrimSpace(fixed))
				continue
			}
		}
		kept = append(kept, strings.TrimSpace(line))
	}
	return strings.Join(kept, "\n"), defective, nil
}

// innerCells returns the cell contents of a delimiter-bounded row.
func innerCells(line string) []string {
	parts := strings.Split(line, "|")
	if len(parts) < 2 {
		return nil
	}
	return parts[1 : len(parts)-1]
}

// demoteStrayPipes rewrites delimiters that sit inside cell content. A
// pipe survives as a column boundary only when at least one of its sides
// carries two spaces of alignment padding; anything tighter is content
// and is demoted to the escaped-pipe sentinel. The first two and last two
// characters are never touched.
func demoteStrayPipes(line string) string {
	chars := []rune(line)
	for i := 2; i < len(chars)-2; i++ {
		if chars[i] != '|' {
			continue
		}
		leftPadded := chars[i-2] == ' ' && chars[i-1] == ' '
		rightPadded := chars[i+1] == ' ' && chars[i+2] == ' '
		if !leftPadded && !rightPadded {
			chars[i] = '\u00a6'
		}
	}
	return string(chars)
}

// isTerminatorRow reports whether a row carries nothing but a closing
// phrase plus table furniture.
func isTerminatorRow(line string) bool {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "|") || !strings.HasSuffix(s, "|") {
		return false
	}
	if dividerRowRe.MatchString(s) {
		return false
	}
	inner := ""
	if len(s) >= 2 {
		inner = s[1 : len(s)-1]
	}
	lowered := strings.ToLower(inner)
	for i, phrase := range terminatorPhrases {
		if strings.Contains(lowered, phrase) {
			inner = terminatorRes[i].ReplaceAllString(inner, "")
		}
	}
	inner = strings.NewReplacer(" ", "", "-", "", ":", "", "|", "").Replace(inner)
	return strings.TrimSpace(inner) == ""
}

// isDividerRow reports whether a row is only delimiters, dashes, colons,
// and spaces. Used during block grouping, where alignment colons count as
// divider furniture.
func isDividerRow(s string) bool {
	r := strings.NewReplacer("|", "", "-", "", ":", "").Replace(s)
	return strings.TrimSpace(r) == ""
}

// mergeItemizedRows folds rows whose identifier cell is empty into the
// row above, joining the remaining cells with a visible break. Models
// itemize long cell content this way when one record spans several rows.
func mergeItemizedRows(rows []string, idCol int) []string {
	for {
		merged := false
		for i := 1; i < len(rows); i++ {
			cols := splitCellsRight(rows[i])
			if len(cols) < idCol+1 || cols[idCol] != "" {
				continue
			}
			parent := splitCellsRight(rows[i-1])
			for j := range parent {
				if j != idCol && j < len(cols) {
					parent[j] += " " + lineBreak + " " + cols[j]
				}
			}
			rows[i-1] = strings.Join(parent, "|")
			rows = append(rows[:i], rows[i+1:]...)
			merged = true
			break
		}
		if !merged {
			return rows
		}
	}
}

// splitCellsRight splits a row on the delimiter and trims trailing
// whitespace from each cell, preserving leading alignment.
func splitCellsRight(row string) []string {
	cols := strings.Split(row, "|")
	for i := range cols {
		cols[i] = strings.TrimRightFunc(cols[i], unicode.IsSpace)
	}
	return cols
}

var emphasisReplacer = strings.NewReplacer("***", " ", "**", " ", " _", " ", "_ ", " ")

// buildRecord maps one row's cells onto schema fields by position and
// coerces each cell to its declared type. Cells that do not coerce
// degrade to nil and are reported as mismatches.
func buildRecord(row string, schema *domain.RecordSchema) (domain.Record, []SchemaMismatchError) {
	cols := strings.Split(row, "|")
	for i := range cols {
		cols[i] = strings.TrimSpace(emphasisReplacer.Replace(cols[i]))
	}

	rec := make(domain.Record, schema.NumFields())
	var mismatches []SchemaMismatchError
	for i, field := range schema.Fields {
		if i >= len(cols) {
			break
		}
		v, ok := coerceCell(cols[i], field.Type)
		if !ok {
			mismatches = append(mismatches, SchemaMismatchError{
				Field: field.Name,
				Type:  string(field.Type),
				Value: cols[i],
			})
		}
		rec[field.Name] = v
	}
	return rec, mismatches
}

// coerceCell converts a trimmed cell to the field's declared type. The
// second return is false when a non-empty cell failed to coerce.
func coerceCell(cell string, t domain.FieldType) (any, bool) {
	switch t {
	case domain.FieldInteger:
		if isDigits(cell) {
			if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
				return n, true
			}
		}
		return nil, cell == ""
	case domain.FieldFloat:
		if floatCellRe.MatchString(cell) {
			if f, err := strconv.ParseFloat(cell, 64); err == nil {
				return f, true
			}
		}
		return nil, cell == ""
	case domain.FieldBoolean:
		return isTruthyWord(cell), true
	default:
		return cell, true
	}
}
