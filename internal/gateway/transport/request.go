// Package transport defines the wire-level request pipeline shared by the
// gateway client, its middleware, and the provider adapters.
package transport

import (
	"net/http"
	"strings"
	"time"
)

// OperationType differentiates the pipeline steps that reach a provider.
// Affects rate limiting quotas, cache key namespacing, and timeout
// configuration for operation-specific resource management.
type OperationType string

const (
	// OpDraft indicates free-form section drafting.
	OpDraft OperationType = "draft"

	// OpConvert indicates structured record conversion, including fallback
	// reformatting and schema-aware repair calls.
	OpConvert OperationType = "convert"

	// OpSynthesize indicates final report synthesis over drafted sections.
	OpSynthesize OperationType = "synthesize"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversation exchange: who said it and what was said.
type Turn struct {
	Role    Role   `json:"role"    validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// History is an ordered conversation transcript. A continuation exchange
// grows it monotonically; turns are never rewritten or truncated.
type History []Turn

// Append adds a turn to the transcript.
func (h *History) Append(role Role, content string) {
	*h = append(*h, Turn{Role: role, Content: content})
}

// AppendUser adds a user-authored turn.
func (h *History) AppendUser(content string) { h.Append(RoleUser, content) }

// AppendAssistant adds an assistant-authored turn.
func (h *History) AppendAssistant(content string) { h.Append(RoleAssistant, content) }

// AssistantText concatenates every assistant-authored turn in order.
// Continuation replies pick up mid-word, so no separator is inserted.
func (h History) AssistantText() string {
	var b strings.Builder
	for _, t := range h {
		if t.Role == RoleAssistant {
			b.WriteString(t.Content)
		}
	}
	return b.String()
}

// SystemText concatenates every system turn, separated by blank lines.
// Providers that carry the system prompt out of band consume this.
func (h History) SystemText() string {
	var parts []string
	for _, t := range h {
		if t.Role == RoleSystem {
			parts = append(parts, t.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Rollup collapses the transcript into a single user turn with labeled
// blocks, for one-shot prompts against endpoints where replaying a long
// multi-turn exchange is wasteful. System turns become "System:" blocks,
// assistant turns "Context:" blocks, and user turns "User:" blocks,
// preserving original order.
func (h History) Rollup() History {
	var b strings.Builder
	for i, t := range h {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch t.Role {
		case RoleSystem:
			b.WriteString("System: ")
		case RoleAssistant:
			b.WriteString("Context: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(t.Content)
	}
	return History{{Role: RoleUser, Content: b.String()}}
}

// Clone returns an independent copy of the transcript.
func (h History) Clone() History {
	out := make(History, len(h))
	copy(out, h)
	return out
}

// Request represents a normalized request across all providers. Contains
// all information needed for provider-specific HTTP request construction,
// middleware processing, and response correlation.
type Request struct {
	// Operation type affects routing, cache namespacing, and rate limiting.
	Operation OperationType `json:"operation" validate:"required,oneof=draft convert synthesize"`

	// Provider identifies which generative service to use.
	Provider string `json:"provider" validate:"required"` // "openai"|"anthropic"|"google"

	// Model specifies the exact model version to use.
	Model string `json:"model" validate:"required"`

	// TenantID enables per-tenant isolation and rate limit keying.
	TenantID string `json:"tenant_id"`

	// History is the full conversation to replay, system turns included.
	History History `json:"history" validate:"required,min=1,dive"`

	// Generation parameters control model behavior.
	MaxTokens   int64   `json:"max_tokens"  validate:"gte=0"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
	Seed        *int64  `json:"seed,omitempty"`

	// Control fields for resilience and observability.
	Timeout        time.Duration     `json:"timeout"`
	IdempotencyKey string            `json:"idempotency_key"`
	TraceID        string            `json:"trace_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Clone returns a copy of the request with an independent History, so a
// caller can branch a conversation without disturbing the original.
func (r *Request) Clone() *Request {
	out := *r
	out.History = r.History.Clone()
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// FinishReason indicates why a provider stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishUnknown       FinishReason = "unknown"
)

// Reply represents normalized output from any provider. Provides a
// consistent response structure that the continuation controller and
// drafting activities translate into domain types.
type Reply struct {
	// Text is the generated content.
	Text string `json:"text"`

	// FinishReason indicates why generation stopped.
	FinishReason FinishReason `json:"finish_reason"`

	// ProviderRequestIDs enables cross-system correlation.
	ProviderRequestIDs []string `json:"provider_request_ids"`

	// Usage tracks resource consumption.
	Usage NormalizedUsage `json:"usage"`

	// Headers preserves raw response headers for debugging.
	Headers http.Header `json:"-"`

	// RawBody preserves the original response for audit.
	RawBody []byte `json:"raw_body,omitempty"`
}

// NormalizedUsage provides consistent usage metrics across all providers.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}

// Add accumulates another usage record, summing token counts and latency.
func (u *NormalizedUsage) Add(other NormalizedUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.LatencyMs += other.LatencyMs
}
