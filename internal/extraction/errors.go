package extraction

import (
	"errors"
	"fmt"
)

// ErrNoStructure signals that the raw text contains no recognizable
// structured payload at all. Callers treat it as the cue to route the
// text through the fallback recordset path rather than as a failure.
var ErrNoStructure = errors.New("no structured payload found in text")

// StructuralError reports that the raw text looked structured but could
// not be bounded or measured: missing table delimiters, undeterminable
// column count, or a document whose top level is not convertible to rows.
// Unlike ErrNoStructure it carries the reason for diagnostics; both are
// recoverable through the fallback path.
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string {
	return "structural parse failed: " + e.Reason
}

// SchemaMismatchError records a field-level disagreement between an
// extracted cell and the schema's declared type. Mismatches never abort a
// parse; the field degrades to empty and the mismatch is kept as a
// diagnostic on the Result.
type SchemaMismatchError struct {
	Field string // schema field name
	Type  string // declared field type
	Value string // offending cell content, as seen
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("cell %q does not coerce to %s for field %q", e.Value, e.Type, e.Field)
}
