package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// EventType represents the type of lifecycle event emitted by the pipeline.
// Using typed constants provides compile-time safety and enables exhaustive
// switch statements for event handling.
type EventType string

const (
	// EventTypeSectionDrafted is emitted when a section draft is assembled
	// and stored. One event per section with generation metadata.
	EventTypeSectionDrafted EventType = "drafting.section_drafted"

	// EventTypeRecordsProduced is emitted when record extraction for a
	// section completes, including fallback and defective-line retries.
	EventTypeRecordsProduced EventType = "drafting.records_produced"

	// EventTypeReportAssembled is emitted once per run when the synthesis
	// and bundle steps finish.
	EventTypeReportAssembled EventType = "drafting.report_assembled"
)

// GenerateIdempotencyKey creates a deterministic key for event deduplication.
// Combines a run-scoped key with an event-specific suffix so retries and
// workflow replays produce identical keys for the same logical event.
func GenerateIdempotencyKey(runKey, eventSuffix string) string {
	hasher := sha256.New()
	hasher.Write([]byte(runKey + eventSuffix))
	return hex.EncodeToString(hasher.Sum(nil))
}

// SectionDraftedIdempotencyKey generates the key for section draft events.
// Pattern: H(run_key || ":draft:" || section).
func SectionDraftedIdempotencyKey(runKey, section string) string {
	return GenerateIdempotencyKey(runKey, fmt.Sprintf(":draft:%s", section))
}

// RecordsProducedIdempotencyKey generates the key for record events.
// Pattern: H(run_key || ":records:" || section).
func RecordsProducedIdempotencyKey(runKey, section string) string {
	return GenerateIdempotencyKey(runKey, fmt.Sprintf(":records:%s", section))
}

// ReportAssembledIdempotencyKey generates the key for the final run event.
// Pattern: H(run_key || ":assembled:1").
func ReportAssembledIdempotencyKey(runKey string) string {
	return GenerateIdempotencyKey(runKey, ":assembled:1")
}
