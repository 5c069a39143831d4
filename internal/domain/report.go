package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SectionSpec describes one pipeline step: a prompt to draft and,
// optionally, a schema to extract typed records from the drafted text.
type SectionSpec struct {
	// Name identifies the section. Used in artifact keys, events, and the
	// run summary, so it must be unique within a request.
	Name string `json:"name" yaml:"name" validate:"required,max=200"`

	// Prompt is the drafting instruction sent through the gateway.
	Prompt string `json:"prompt" yaml:"prompt" validate:"required"`

	// Schema, when set, asks the pipeline to extract typed records from
	// the drafted text. Sections without a schema produce prose only.
	Schema *RecordSchema `json:"schema,omitempty" yaml:"schema,omitempty"`

	// MaxTokens optionally caps the generation size for this section.
	MaxTokens int64 `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"min=0"`
}

// Validate checks the section spec, including its schema when present.
func (s *SectionSpec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSection, err)
	}
	if s.Schema != nil {
		if err := s.Schema.Validate(); err != nil {
			return fmt.Errorf("%w: section %q: %w", ErrInvalidSection, s.Name, err)
		}
	}
	return nil
}

// ReportRequest describes one report-production run. Requests are immutable
// once validated; workflow code treats them as value inputs.
type ReportRequest struct {
	// ID uniquely identifies this run.
	ID string `json:"id" validate:"required,uuid"`

	// TenantID scopes artifacts and events for multi-tenant deployments.
	TenantID string `json:"tenant_id" validate:"required,uuid"`

	// Title names the report in artifacts and the synthesis prompt.
	Title string `json:"title" validate:"required,max=500"`

	// Sections holds the ordered pipeline steps.
	Sections []SectionSpec `json:"sections" validate:"required,min=1"`

	// Budget carries the caller-supplied limits for this run.
	Budget DraftBudget `json:"budget"`

	// Concurrency bounds simultaneous gateway-bound work units.
	// Zero means unlimited.
	Concurrency int `json:"concurrency" validate:"min=0"`

	// RequestedBy optionally records the requesting identity for audit.
	RequestedBy string `json:"requested_by,omitempty"`

	// RequestedAt records submission time.
	RequestedAt time.Time `json:"requested_at" validate:"required"`
}

// NewReportRequest constructs a validated request with a fresh ID and the
// default budget. Section specs are validated individually so errors name
// the offending section.
func NewReportRequest(title, tenantID string, sections ...SectionSpec) (*ReportRequest, error) {
	return MakeReportRequest(uuid.New().String(), time.Now().UTC(), title, tenantID, sections...)
}

// MakeReportRequest constructs a request with explicit ID and timestamp.
// Deterministic construction is required when requests are rebuilt inside
// workflow code during replay.
func MakeReportRequest(id string, requestedAt time.Time, title, tenantID string, sections ...SectionSpec) (*ReportRequest, error) {
	r := &ReportRequest{
		ID:          id,
		TenantID:    tenantID,
		Title:       title,
		Sections:    sections,
		Budget:      DefaultDraftBudget(),
		RequestedAt: requestedAt,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the request and every section spec.
func (r *ReportRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	seen := make(map[string]struct{}, len(r.Sections))
	for i := range r.Sections {
		if err := r.Sections[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.Sections[i].Name]; dup {
			return fmt.Errorf("%w: duplicate section %q", ErrInvalidRequest, r.Sections[i].Name)
		}
		seen[r.Sections[i].Name] = struct{}{}
	}
	if err := r.Budget.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBudget, err)
	}
	return nil
}

// FailureNote is the serializable form of a fan-out failure record, carried
// in results and events. Name and Index identify the failed unit; Error is
// the unit's error text; InputPreview is a truncated snapshot of the input
// the unit received, so diagnosis never requires re-execution.
type FailureNote struct {
	Name         string `json:"name"`
	Index        int    `json:"index"`
	Error        string `json:"error"`
	InputPreview string `json:"input_preview,omitempty"`
}

// SectionResult holds one section's pipeline output: the drafted text, any
// extracted records, rows that resisted repair, and artifact references.
type SectionResult struct {
	// Name echoes the section spec name.
	Name string `json:"name"`

	// Text is the assembled draft after continuation control.
	Text string `json:"text,omitempty"`

	// Records holds extracted typed records when the section has a schema.
	Records []Record `json:"records,omitempty"`

	// DefectiveLines holds rows that could not be reconciled with the
	// schema even after delimiter repair and the fallback retry.
	DefectiveLines []string `json:"defective_lines,omitempty"`

	// Failures carries fan-out failure notes from the fallback conversion.
	Failures []FailureNote `json:"failures,omitempty"`

	// Draft references the stored section text.
	Draft ArtifactRef `json:"draft,omitempty"`

	// Table references the stored record table, when records were produced.
	Table ArtifactRef `json:"table,omitempty"`
}

// ReportResult is the workflow's final output: the synthesized body, the
// per-section results, usage totals, and a rendered run summary.
type ReportResult struct {
	// ID echoes the request ID.
	ID string `json:"id"`

	// Title echoes the request title.
	Title string `json:"title"`

	// Body is the synthesized report text.
	Body string `json:"body,omitempty"`

	// Sections holds per-section outcomes in request order.
	Sections []SectionResult `json:"sections"`

	// Bundle references the zipped report bundle.
	Bundle ArtifactRef `json:"bundle,omitempty"`

	// TotalTokens aggregates token usage across all gateway calls.
	TotalTokens int64 `json:"total_tokens"`

	// GatewayCalls counts model invocations made during the run.
	GatewayCalls int64 `json:"gateway_calls"`

	// RunSummary is the rendered per-step outcome table.
	RunSummary string `json:"run_summary,omitempty"`
}
