package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/aelwyn/go-drafter/internal/domain"
)

// StructuralRepairer normalizes assembled output without a model call: the
// text is parsed and the recovered records re-rendered as one clean table.
// Rows the parser could not reconcile are appended verbatim after the table,
// so downstream defect handling still sees them.
//
// The zero value is ready to use. It satisfies the continuation repair
// contract; when parsing fails outright the error makes the caller keep
// the unrepaired text.
type StructuralRepairer struct{}

// Repair re-renders text as a clean delimited table against schema. A nil
// schema passes the text through untouched.
func (StructuralRepairer) Repair(_ context.Context, text string, schema *domain.RecordSchema) (string, error) {
	if schema == nil {
		return text, nil
	}

	res, err := Extract(text, schema)
	if err != nil {
		return "", fmt.Errorf("structural repair: %w", err)
	}
	if len(res.Records) == 0 {
		return "", fmt.Errorf("structural repair: %w", ErrNoStructure)
	}

	out := RenderTable(schema, res.Records)
	if len(res.DefectiveLines) > 0 {
		out += "\n" + strings.Join(res.DefectiveLines, "\n")
	}
	return out, nil
}
