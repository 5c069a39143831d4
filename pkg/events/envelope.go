// Package events provides the generic event infrastructure for pipeline
// event emission. It defines the Envelope type that wraps domain events
// with consistent metadata and the EventSink interface events flow into.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Envelope wraps a domain event with the metadata downstream consumers
// need for routing, deduplication, and correlation. The payload stays
// opaque JSON so one envelope schema serves every event type.
//
// The envelope enables:
// - Schema evolution through the Version field
// - Deduplication via deterministic idempotency keys
// - Per-tenant event filtering
// - Correlation back to the workflow run that produced the event.
type Envelope struct {
	// ID uniquely identifies this event instance.
	// Generated as a UUID for each emission.
	ID string `json:"id"`

	// Type identifies the event for routing and processing.
	// Examples: "drafting.section_drafted", "drafting.records_produced"
	Type string `json:"type"`

	// Source identifies the component that emitted this event.
	// Example: "drafting-activity"
	Source string `json:"source"`

	// Version enables schema evolution and backward compatibility.
	// Starts at "1.0.0" and follows semantic versioning.
	Version string `json:"version"`

	// Timestamp records when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey ensures exactly-once processing during retries.
	// Derived deterministically from the run key and event content.
	IdempotencyKey string `json:"idempotency_key"`

	// TenantID identifies the tenant for multi-tenant filtering.
	TenantID string `json:"tenant_id"`

	// WorkflowID identifies the workflow run that triggered this event.
	WorkflowID string `json:"workflow_id"`

	// RunID identifies the specific workflow execution run, so retries of
	// the same workflow stay distinguishable.
	RunID string `json:"run_id"`

	// Payload carries the event-specific data as JSON. Its schema is
	// determined by Type and Version.
	Payload json.RawMessage `json:"payload"`
}

// EventSink accepts emitted events for downstream consumers. Backends
// range from database outboxes to message queues to plain log output.
//
// Implementations should be cheap to call and failure-tolerant: events
// matter for observability, never for correctness.
type EventSink interface {
	// Append adds an event to the sink with best-effort delivery.
	// Implementations should treat duplicate idempotency keys as no-ops
	// and return quickly rather than block the caller.
	//
	// An error means the event could not be queued; callers must not
	// fail their primary operation because of it.
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards every event. Used in tests and one-shot CLI
// runs where no event infrastructure exists.
type NoOpEventSink struct{}

// Append implements EventSink; it always succeeds without side effects.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error {
	return nil
}

// NewNoOpEventSink creates a sink that discards all events.
func NewNoOpEventSink() EventSink {
	return &NoOpEventSink{}
}
