// Package drafting implements the Temporal activities that produce a report:
// section drafting under continuation control, record extraction with
// fallback conversion, synthesis, and bundle assembly.
package drafting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aelwyn/go-drafter/internal/domain"
	"github.com/aelwyn/go-drafter/pkg/activity"
	"github.com/aelwyn/go-drafter/pkg/events"
)

// sectionDraftedEvent records one assembled section draft. Emitted per
// section with generation metadata for tracking draft latency and size.
type sectionDraftedEvent struct {
	Section            string    `json:"section"`
	ContentRef         string    `json:"content_ref"`
	Provider           string    `json:"provider"`
	Model              string    `json:"model"`
	ProviderRequestIDs []string  `json:"provider_request_ids"`
	Continuations      int       `json:"continuations"`
	TokensUsed         int64     `json:"tokens_used"`
	LatencyMillis      int64     `json:"latency_millis"`
	ProducedAt         time.Time `json:"produced_at"`
}

// recordsProducedEvent records the outcome of record extraction for one
// section, including how much of the data needed the fallback path.
type recordsProducedEvent struct {
	Section          string    `json:"section"`
	RecordCount      int       `json:"record_count"`
	DefectiveLines   int       `json:"defective_lines"`
	FallbackFailures int       `json:"fallback_failures"`
	TableRef         string    `json:"table_ref"`
	TokensUsed       int64     `json:"tokens_used"`
	CallsMade        int64     `json:"calls_made"`
	ProducedAt       time.Time `json:"produced_at"`
}

// reportAssembledEvent records the end of a run: synthesis plus bundling.
type reportAssembledEvent struct {
	ReportID     string    `json:"report_id"`
	Title        string    `json:"title"`
	SectionCount int       `json:"section_count"`
	BundleRef    string    `json:"bundle_ref"`
	TotalTokens  int64     `json:"total_tokens"`
	GatewayCalls int64     `json:"gateway_calls"`
	AssembledAt  time.Time `json:"assembled_at"`
}

// EventEmitter handles event emission for the drafting domain. It builds
// envelopes with deterministic idempotency keys so workflow retries and
// replays never double-count an event.
type EventEmitter struct {
	base activity.BaseActivities
}

// NewEventEmitter creates an EventEmitter with the provided base activities.
func NewEventEmitter(base activity.BaseActivities) *EventEmitter {
	return &EventEmitter{base: base}
}

const (
	eventSource  = "drafting-activity"
	eventVersion = "1.0.0"
)

// EmitSectionDrafted emits one event per assembled section draft.
func (e *EventEmitter) EmitSectionDrafted(
	ctx context.Context,
	out *DraftSectionOutput,
	wfCtx activity.WorkflowContext,
	runKey string,
	provider, model string,
	latencyMillis int64,
) {
	event := sectionDraftedEvent{
		Section:            out.Section,
		ContentRef:         out.Draft.Key,
		Provider:           provider,
		Model:              model,
		ProviderRequestIDs: out.ProviderRequestIDs,
		Continuations:      out.Continuations,
		TokensUsed:         out.TokensUsed,
		LatencyMillis:      latencyMillis,
		ProducedAt:         time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		activity.SafeLogError(ctx, "Failed to marshal section drafted event",
			"section", out.Section,
			"error", err)
		return
	}

	envelope := events.Envelope{
		ID:             uuid.New().String(),
		Type:           string(domain.EventTypeSectionDrafted),
		Source:         eventSource,
		Version:        eventVersion,
		Timestamp:      time.Now(),
		IdempotencyKey: domain.SectionDraftedIdempotencyKey(runKey, out.Section),
		TenantID:       wfCtx.TenantID,
		WorkflowID:     wfCtx.WorkflowID,
		RunID:          wfCtx.RunID,
		Payload:        payload,
	}

	e.base.EmitEventSafe(ctx, envelope, fmt.Sprintf("SectionDrafted[%s]", out.Section))
}

// EmitRecordsProduced emits one event per completed record extraction.
func (e *EventEmitter) EmitRecordsProduced(
	ctx context.Context,
	out *ProduceRecordsOutput,
	wfCtx activity.WorkflowContext,
	runKey string,
) {
	event := recordsProducedEvent{
		Section:          out.Section,
		RecordCount:      len(out.Records),
		DefectiveLines:   len(out.DefectiveLines),
		FallbackFailures: len(out.Failures),
		TableRef:         out.Table.Key,
		TokensUsed:       out.TokensUsed,
		CallsMade:        out.CallsMade,
		ProducedAt:       time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		activity.SafeLogError(ctx, "Failed to marshal records produced event",
			"section", out.Section,
			"error", err)
		return
	}

	envelope := events.Envelope{
		ID:             uuid.New().String(),
		Type:           string(domain.EventTypeRecordsProduced),
		Source:         eventSource,
		Version:        eventVersion,
		Timestamp:      time.Now(),
		IdempotencyKey: domain.RecordsProducedIdempotencyKey(runKey, out.Section),
		TenantID:       wfCtx.TenantID,
		WorkflowID:     wfCtx.WorkflowID,
		RunID:          wfCtx.RunID,
		Payload:        payload,
	}

	e.base.EmitEventSafe(ctx, envelope, fmt.Sprintf("RecordsProduced[%s]", out.Section))
}

// EmitReportAssembled emits the single end-of-run event after bundling.
func (e *EventEmitter) EmitReportAssembled(
	ctx context.Context,
	reportID, title string,
	sectionCount int,
	bundle domain.ArtifactRef,
	totalTokens, gatewayCalls int64,
	wfCtx activity.WorkflowContext,
	runKey string,
) {
	event := reportAssembledEvent{
		ReportID:     reportID,
		Title:        title,
		SectionCount: sectionCount,
		BundleRef:    bundle.Key,
		TotalTokens:  totalTokens,
		GatewayCalls: gatewayCalls,
		AssembledAt:  time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		activity.SafeLogError(ctx, "Failed to marshal report assembled event",
			"report_id", reportID,
			"error", err)
		return
	}

	envelope := events.Envelope{
		ID:             uuid.New().String(),
		Type:           string(domain.EventTypeReportAssembled),
		Source:         eventSource,
		Version:        eventVersion,
		Timestamp:      time.Now(),
		IdempotencyKey: domain.ReportAssembledIdempotencyKey(runKey),
		TenantID:       wfCtx.TenantID,
		WorkflowID:     wfCtx.WorkflowID,
		RunID:          wfCtx.RunID,
		Payload:        payload,
	}

	e.base.EmitEventSafe(ctx, envelope, fmt.Sprintf("ReportAssembled[%s]", reportID))
}
