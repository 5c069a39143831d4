package extraction

import "strings"

// DefaultRecordSetRows is the number of data rows per fallback recordset.
// Conversion calls stay reliable when each one carries at most this many
// rows.
const DefaultRecordSetRows = 20

// BuildFallbackRecordSets re-chunks text that resisted direct parsing
// into conversion-sized recordsets. Table fragments are located with a
// looser eye than the direct parser uses, merged into one table with
// repeated headers and stray dividers dropped, and split into sets of at
// most rowsPerSet data rows, each repeating the original header so every
// set converts independently.
//
// An empty return means no table fragments were found; the caller
// decides whether to convert the raw text whole.
func BuildFallbackRecordSets(text string, rowsPerSet int) [][]string {
	return splitIntoRecordSets(mergeFallbackTables(extractFallbackTables(text)), rowsPerSet)
}

// RecoverDefectiveHeader scans the original text for the first header row
// followed by a divider and returns the pair, so defective lines can be
// re-presented under the table's own header. Returns nil when the text
// never had one.
func RecoverDefectiveHeader(text string) []string {
	first := strings.Index(text, "|")
	last := strings.LastIndex(text, "|")
	if first == -1 {
		return nil
	}
	bounded := text[first : last+1]

	pending := ""
	havePending := false
	for _, line := range strings.Split(bounded, "\n") {
		s := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(s, "|") && strings.HasSuffix(s, "|"):
			if isFallbackDivider(s) {
				if havePending {
					return []string{pending, s}
				}
				continue
			}
			pending, havePending = s, true
		case s == "":
			continue
		default:
			havePending = false
		}
	}
	return nil
}

// extractFallbackTables collects contiguous runs of delimiter-bounded
// rows. A header row is only committed once a divider or another row
// confirms it belongs to a table; prose between runs separates tables.
func extractFallbackTables(text string) [][]string {
	text = strings.ReplaceAll(text, "||", sentinelDoubled)
	text = strings.ReplaceAll(text, `\|`, sentinelEscaped)

	first := strings.Index(text, "|")
	last := strings.LastIndex(text, "|")
	if first == -1 {
		return nil
	}
	bounded := text[first : last+1]

	var tables [][]string
	var current []string
	pending := ""
	havePending := false
	tableFound := false
	lastWasSeparator := false

	for _, line := range strings.Split(bounded, "\n") {
		s := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(s, "|") && strings.HasSuffix(s, "|"):
			if isFallbackDivider(s) {
				tableFound = true
				if havePending {
					current = []string{pending, s}
					havePending = false
				}
				lastWasSeparator = true
				continue
			}
			switch {
			case lastWasSeparator:
				current = append(current, s)
				lastWasSeparator = false
			case len(current) > 0:
				current = append(current, s)
			default:
				pending, havePending = s, true
			}
		case s == "":
			continue
		default:
			if len(current) > 0 {
				tables = append(tables, current)
				current = nil
			} else if havePending && tableFound {
				tables = append(tables, []string{pending})
			}
			havePending = false
			lastWasSeparator = false
		}
	}

	if len(current) > 0 {
		tables = append(tables, current)
	} else if havePending {
		tables = append(tables, []string{pending})
	}
	return tables
}

// mergeFallbackTables concatenates table fragments into one table. The
// first fragment is kept whole; later fragments lose their header and
// divider pair, lone leading dividers, and dividers between rows.
func mergeFallbackTables(tables [][]string) []string {
	var merged []string
	for ti, table := range tables {
		if ti == 0 {
			merged = append(merged, table...)
			continue
		}

		i := 0
		headerCheck := true
		for i < len(table) {
			line := strings.TrimSpace(table[i])
			if headerCheck {
				switch {
				case isFallbackDivider(line):
					i++
				case i+1 < len(table):
					next := strings.TrimSpace(table[i+1])
					if isFallbackDivider(next) {
						// Header and divider pair repeats the first
						// fragment's header, drop both.
						i += 2
					} else {
						merged = append(merged, line, next)
						i += 2
					}
				default:
					merged = append(merged, line)
					i++
				}
				headerCheck = false
				continue
			}
			if !isFallbackDivider(line) {
				merged = append(merged, line)
			}
			i++
		}
	}
	return merged
}

// splitIntoRecordSets chunks merged table lines into sets of at most
// rowCount data rows, prepending the detected header pair to each set.
func splitIntoRecordSets(lines []string, rowCount int) [][]string {
	if len(lines) == 0 || rowCount < 1 {
		return nil
	}

	var header []string
	dataStart := 0
	if len(lines) >= 2 && isFallbackDivider(lines[1]) {
		header = lines[:2]
		dataStart = 2
	}

	data := lines[dataStart:]
	var sets [][]string
	for i := 0; i < len(data); i += rowCount {
		end := i + rowCount
		if end > len(data) {
			end = len(data)
		}
		set := make([]string, 0, len(header)+end-i)
		set = append(set, header...)
		set = append(set, data[i:end]...)
		sets = append(sets, set)
	}
	return sets
}

// isFallbackDivider reports whether a line is only delimiters, dashes,
// and spaces. The fallback scanner does not honor alignment colons.
func isFallbackDivider(s string) bool {
	r := strings.NewReplacer("|", "", "-", "").Replace(s)
	return strings.TrimSpace(r) == ""
}
