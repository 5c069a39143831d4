package domain

import "maps"

// Record is one extracted row keyed by schema field name. Values hold
// string, int64, float64, bool, or nil where a numeric coercion failed.
// Iteration order is defined by the owning RecordSchema, not by the map.
type Record map[string]any

// Clone returns a shallow copy of the record. Values are immutable scalars,
// so a shallow copy is sufficient to prevent aliasing between callers.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	maps.Copy(out, r)
	return out
}

// StringValue returns the named field as a string. Non-string and missing
// values report ok=false.
func (r Record) StringValue(field string) (string, bool) {
	v, ok := r[field].(string)
	return v, ok
}

// IntValue returns the named field as an int64. Nil values from failed
// coercions and missing fields report ok=false.
func (r Record) IntValue(field string) (int64, bool) {
	v, ok := r[field].(int64)
	return v, ok
}

// FloatValue returns the named field as a float64.
func (r Record) FloatValue(field string) (float64, bool) {
	v, ok := r[field].(float64)
	return v, ok
}

// BoolValue returns the named field as a bool.
func (r Record) BoolValue(field string) (bool, bool) {
	v, ok := r[field].(bool)
	return v, ok
}
