package extraction

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aelwyn/go-drafter/internal/domain"
)

var (
	fencedJSONRe    = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	inlineJSONRe    = regexp.MustCompile(`(\{[\s\S]*\})`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyRe       = regexp.MustCompile(`(\{|,)\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// ExtractJSON pulls a JSON document out of raw model output and converts
// it to records. The decoder tolerates the dialect models emit: line
// comments, trailing commas, unquoted keys, and unclosed brackets are
// repaired before giving up. A top-level array yields one record per
// element; an object yields the records of its first array-valued member,
// or the wrapped object of its first object-valued member, in document
// order.
//
// Field names match object keys case-insensitively. Keys with no schema
// field are ignored and fields with no key stay unset. Composite values
// landing in a string field are flattened to an itemized single string.
func ExtractJSON(text string, schema *domain.RecordSchema) (*Result, error) {
	raw, ok := locateJSON(text)
	if !ok {
		return nil, ErrNoStructure
	}
	doc, clean, err := decodeTolerant(raw)
	if err != nil || doc == nil {
		return nil, ErrNoStructure
	}
	if isEmptyDocument(doc) {
		return &Result{Records: []domain.Record{}}, nil
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		items, err = firstCompositeMember(clean)
		if err != nil {
			return nil, err
		}
	default:
		// A bare scalar document carries no records.
		return &Result{Records: []domain.Record{}}, nil
	}

	res := &Result{Records: []domain.Record{}}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, &StructuralError{Reason: "json items are not objects"}
		}
		rec := make(domain.Record, schema.NumFields())
		for _, field := range schema.Fields {
			key, found := matchKeyFold(obj, field.Name)
			if !found {
				continue
			}
			v, ok := coerceJSONValue(obj[key], field.Type)
			if !ok {
				res.Mismatches = append(res.Mismatches, SchemaMismatchError{
					Field: field.Name,
					Type:  string(field.Type),
					Value: scalarString(obj[key]),
				})
			}
			rec[field.Name] = v
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

// locateJSON finds the document inside the reply, preferring a fenced
// block over a bare top-level object.
func locateJSON(text string) (string, bool) {
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := inlineJSONRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}

// decodeTolerant parses the document, stripping comments and repairing
// the usual model damage on a second attempt. It returns the decoded
// value and the text that actually parsed.
func decodeTolerant(raw string) (any, string, error) {
	if doc, err := decodeJSON(raw); err == nil {
		return doc, raw, nil
	}
	clean := repairJSONText(raw)
	doc, err := decodeJSON(clean)
	if err != nil {
		return nil, "", err
	}
	return doc, clean, nil
}

func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// repairJSONText applies the fixes that recover most malformed model
// JSON: line comments, trailing commas, bare keys, single quotes, and
// missing closing brackets.
func repairJSONText(s string) string {
	repaired := stripLineComments(s)
	repaired = trailingCommaRe.ReplaceAllString(repaired, "$1")
	repaired = bareKeyRe.ReplaceAllString(repaired, `$1"$2":`)

	if !strings.Contains(repaired, `"`) && strings.Contains(repaired, `'`) {
		repaired = strings.ReplaceAll(repaired, `'`, `"`)
	}

	openBraces := strings.Count(repaired, "{") - strings.Count(repaired, "}")
	for i := 0; i < openBraces; i++ {
		repaired += "}"
	}
	openBrackets := strings.Count(repaired, "[") - strings.Count(repaired, "]")
	for i := 0; i < openBrackets; i++ {
		repaired += "]"
	}

	repaired = strings.TrimPrefix(repaired, "\uFEFF")
	return strings.TrimSpace(repaired)
}

// stripLineComments removes // and # line comments while leaving
// comment-like sequences inside string literals alone.
func stripLineComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '#' || (c == '/' && i+1 < len(s) && s[i+1] == '/'):
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isEmptyDocument(doc any) bool {
	switch v := doc.(type) {
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case string:
		return v == ""
	case bool:
		return !v
	case json.Number:
		f, err := v.Float64()
		return err == nil && f == 0
	}
	return false
}

// firstCompositeMember walks the object's members in document order and
// returns the first array value, or the first object value wrapped as a
// single item. Maps lose ordering on decode, so the walk re-reads the
// parsed text through the token stream.
func firstCompositeMember(doc string) ([]any, error) {
	dec := json.NewDecoder(strings.NewReader(doc))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil, &StructuralError{Reason: "json document is not walkable"}
	}
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			break
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			break
		}
		switch m := v.(type) {
		case []any:
			return m, nil
		case map[string]any:
			return []any{m}, nil
		}
	}
	return nil, &StructuralError{Reason: "json document has no array or object member"}
}

// matchKeyFold finds the object key matching a field name without regard
// to case.
func matchKeyFold(obj map[string]any, field string) (string, bool) {
	if _, ok := obj[field]; ok {
		return field, true
	}
	for k := range obj {
		if strings.EqualFold(k, field) {
			return k, true
		}
	}
	return "", false
}

// coerceJSONValue converts a decoded JSON value to the field's declared
// type. The second return is false when a present value failed to
// coerce.
func coerceJSONValue(v any, t domain.FieldType) (any, bool) {
	switch t {
	case domain.FieldString:
		if s, ok := v.(string); ok {
			return s, true
		}
		return flattenValue(v, 0), true
	case domain.FieldInteger:
		lit := scalarString(v)
		if isDigits(lit) {
			if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
				return n, true
			}
		}
		return nil, v == nil
	case domain.FieldFloat:
		switch f := v.(type) {
		case json.Number:
			if parsed, err := f.Float64(); err == nil {
				return parsed, true
			}
			return nil, false
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(f), 64); err == nil {
				return parsed, true
			}
			return nil, false
		case bool:
			if f {
				return 1.0, true
			}
			return 0.0, true
		case nil:
			return nil, true
		default:
			return nil, false
		}
	case domain.FieldBoolean:
		return isTruthyWord(scalarString(v)), true
	default:
		return scalarString(v), true
	}
}

// scalarString renders a scalar JSON value the way it appeared in the
// document. Composites render empty.
func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		if s {
			return "true"
		}
		return "false"
	}
	return ""
}

// flattenValue renders a composite JSON value as a single display
// string, itemizing nested structure with visible breaks so it can live
// in one table cell.
func flattenValue(v any, indent int) string {
	pad := strings.Repeat("    ", indent)
	switch val := v.(type) {
	case []any:
		if allStrings(val) {
			parts := make([]string, len(val))
			for i, s := range val {
				parts[i] = strings.TrimSpace(s.(string))
			}
			return pad + strings.Join(parts, ", ")
		}
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = pad + "- " + flattenValue(item, indent+1)
		}
		return strings.Join(parts, lineBreak)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, pad+"- **"+k+"**: "+flattenValue(val[k], indent+1))
		}
		return strings.Join(parts, lineBreak)
	case nil:
		return pad + "null"
	default:
		return pad + strings.TrimSpace(scalarString(v))
	}
}

func allStrings(items []any) bool {
	for _, item := range items {
		if _, ok := item.(string); !ok {
			return false
		}
	}
	return true
}
