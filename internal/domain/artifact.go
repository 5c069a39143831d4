package domain

// ArtifactKind represents the type of content stored in an artifact.
// Using typed constants instead of raw strings provides compile-time safety
// and prevents typos that could bypass validation.
type ArtifactKind string

const (
	// ArtifactSectionDraft represents drafted section text assembled from
	// one continuation-controlled generation.
	ArtifactSectionDraft ArtifactKind = "section_draft"

	// ArtifactRecordTable represents extracted records rendered back to a
	// delimited table.
	ArtifactRecordTable ArtifactKind = "record_table"

	// ArtifactReportBundle represents the final zipped report bundle.
	ArtifactReportBundle ArtifactKind = "report_bundle"

	// ArtifactReportBody represents the assembled report markdown, stored
	// on its own so the report can be served without unzipping the bundle.
	ArtifactReportBody ArtifactKind = "report_body"

	// ArtifactRawPrompt represents rendered prompt text sent to the model.
	ArtifactRawPrompt ArtifactKind = "raw_prompt"
)

// ArtifactRef references content stored in the artifact store. Large text
// lives outside workflow histories; activities pass these lightweight
// references instead.
type ArtifactRef struct {
	// Key is the unique identifier for the stored artifact
	// (e.g., "drafts/<tenant>/wf-<id>/sec-01.md").
	// Can be empty when the ArtifactRef is unused (IsZero() reports true).
	Key string `json:"key" validate:"required_with=Kind"`

	// Size is the size of the stored content in bytes.
	Size int64 `json:"size" validate:"min=0"`

	// Kind categorizes the stored content.
	// Can be empty when the ArtifactRef is unused (IsZero() reports true).
	Kind ArtifactKind `json:"kind" validate:"required_with=Key,omitempty,oneof=section_draft record_table report_bundle report_body raw_prompt"`
}

// Validate checks if the artifact reference meets all requirements.
func (a ArtifactRef) Validate() error { return validate.Struct(a) }

// IsZero reports whether the artifact reference has no meaningful value set.
// This enables value semantics while preserving JSON omitempty behavior on
// embedding structs, as encoding/json treats types with IsZero as empty.
func (a ArtifactRef) IsZero() bool { return a.Key == "" && a.Size == 0 && a.Kind == "" }
