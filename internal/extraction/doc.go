// Package extraction recovers typed records from the unreliable text that
// language models return when asked for structured output.
//
// The package is organized around three layouts a reply can carry: a
// pipe-delimited markdown table, a sequence of labeled report sections,
// and a fenced JSON document. Detect chooses the layout, Extract parses
// it, and every parser degrades instead of failing: rows it cannot
// reconcile are segregated as defective lines, cells that disagree with
// the schema collapse to empty values, and text with no usable structure
// is reported through ErrNoStructure so callers can re-chunk it with
// BuildFallbackRecordSets and hand it to a model for conversion.
package extraction
