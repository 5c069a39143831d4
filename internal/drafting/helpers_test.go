package drafting

import (
	"context"
	"sync"

	"github.com/aelwyn/go-drafter/internal/artifacts"
	"github.com/aelwyn/go-drafter/internal/domain"
	"github.com/aelwyn/go-drafter/internal/gateway"
	"github.com/aelwyn/go-drafter/pkg/activity"
	"github.com/aelwyn/go-drafter/pkg/events"
)

// scriptedClient implements the gateway client with a test-supplied
// handler, recording every request it sees. Fan-out units invoke it
// concurrently, so both sides are mutex-guarded.
type scriptedClient struct {
	mu       sync.Mutex
	handler  func(req *gateway.Request) (*gateway.Reply, error)
	requests []*gateway.Request
}

func (s *scriptedClient) Invoke(_ context.Context, req *gateway.Request) (*gateway.Reply, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req.Clone())
	s.mu.Unlock()
	return s.handler(req)
}

// seen returns a snapshot of every recorded request in arrival order.
func (s *scriptedClient) seen() []*gateway.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*gateway.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// reply wraps text in a minimal successful gateway reply with fixed
// usage, so tests can assert aggregate token accounting.
func reply(text string) *gateway.Reply {
	return &gateway.Reply{
		Text:               text,
		FinishReason:       gateway.FinishStop,
		ProviderRequestIDs: []string{"req-" + shortHash(text, 8)},
		Usage: gateway.NormalizedUsage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
			LatencyMs:        5,
		},
	}
}

// capturingSink records emitted event envelopes for assertions.
type capturingSink struct {
	mu        sync.Mutex
	envelopes []events.Envelope
}

func (c *capturingSink) Append(_ context.Context, envelope events.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelopes = append(c.envelopes, envelope)
	return nil
}

// byType returns captured envelopes of one event type in emission order.
func (c *capturingSink) byType(eventType string) []events.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Envelope
	for _, e := range c.envelopes {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// newTestActivities wires activities against a scripted gateway, an
// in-memory artifact store, and a capturing event sink. Zero-value
// config fields get serviceable defaults; repair stays off so call
// counts in assertions are exact.
func newTestActivities(cfg Config, handler func(*gateway.Request) (*gateway.Reply, error)) (*Activities, *scriptedClient, *artifacts.MemoryStore, *capturingSink) {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Repair == "" {
		cfg.Repair = RepairOff
	}

	client := &scriptedClient{handler: handler}
	store := artifacts.NewMemoryStore()
	sink := &capturingSink{}
	acts := NewActivities(activity.NewBaseActivities(sink), client, store, cfg)
	return acts, client, store, sink
}

// testBudget returns tight but workable limits for activity tests.
func testBudget() domain.DraftBudget {
	return domain.DraftBudget{
		MaxContinuations: 2,
		MaxRepairRounds:  2,
		MaxGatewayCalls:  10,
		UnitTimeoutSecs:  30,
	}
}

// regionSchema is the two-column schema most drafting tests extract
// against.
func regionSchema() *domain.RecordSchema {
	return &domain.RecordSchema{
		Name: "regions",
		Fields: []domain.FieldSpec{
			{Name: "id", Type: domain.FieldString},
			{Name: "detail", Type: domain.FieldString},
		},
	}
}
