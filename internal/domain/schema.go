// Package domain provides core types for the report drafting pipeline.
// It defines record schemas, typed records, report requests, draft budgets,
// and artifact references used throughout the system. The types are designed
// as plain, serializable data values so pipeline behavior stays reproducible
// and auditable across workflow retries.
package domain

import (
	"fmt"
	"strings"
)

// FieldType identifies the semantic type of a schema field.
// Using typed constants provides compile-time safety and enables
// exhaustive switch statements during cell coercion.
type FieldType string

const (
	// FieldString holds free text. Embedded delimiter and newline
	// characters are normalized before records reach the caller.
	FieldString FieldType = "string"

	// FieldInteger holds whole numbers. Unparseable cells degrade to nil.
	FieldInteger FieldType = "integer"

	// FieldFloat holds decimal numbers. Unparseable cells degrade to nil.
	FieldFloat FieldType = "float"

	// FieldBoolean holds truth values parsed from a small truthy-token set.
	FieldBoolean FieldType = "boolean"
)

// Valid reports whether t is one of the defined field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldInteger, FieldFloat, FieldBoolean:
		return true
	default:
		return false
	}
}

// FieldSpec describes a single schema field. The position of a FieldSpec
// within a RecordSchema is the positional contract for table-column mapping.
type FieldSpec struct {
	// Name is the record key for this field.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Type selects the coercion applied to raw cell text.
	Type FieldType `json:"type" yaml:"type" validate:"required,oneof=string integer float boolean"`

	// Description optionally documents the field. When records are
	// rendered back to a table it becomes the column header.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// RecordSchema is an ordered, typed field list interpreted uniformly by the
// extractor. Schemas are declared as data values: no concrete type is ever
// synthesized per call, and fields are never discovered by introspecting an
// instance.
//
// The first field is the identifier column. Itemized rows whose identifier
// cell is empty are merged into the immediately preceding row during table
// extraction.
type RecordSchema struct {
	// Name labels the schema in diagnostics and artifact metadata.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Fields holds the ordered field list.
	Fields []FieldSpec `json:"fields" yaml:"fields" validate:"required,min=1,dive"`
}

// NewRecordSchema builds a validated schema from an ordered field list.
func NewRecordSchema(name string, fields ...FieldSpec) (*RecordSchema, error) {
	s := &RecordSchema{Name: name, Fields: fields}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks schema structure and rejects duplicate field names.
// Field names are compared case-insensitively because extraction matches
// JSON keys to fields case-insensitively.
func (s *RecordSchema) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		key := strings.ToLower(f.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// NumFields returns the number of declared fields.
func (s *RecordSchema) NumFields() int { return len(s.Fields) }

// FieldNames returns the field names in declaration order.
func (s *RecordSchema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Identifier returns the identifier column spec, which is always the first
// declared field.
func (s *RecordSchema) Identifier() FieldSpec { return s.Fields[0] }

// FieldByName looks up a field case-insensitively and reports whether it
// exists. The returned spec preserves the declared casing.
func (s *RecordSchema) FieldByName(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return FieldSpec{}, false
}
