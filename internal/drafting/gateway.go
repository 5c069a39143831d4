package drafting

import (
	"context"
	"sync"

	"github.com/aelwyn/go-drafter/internal/domain"
	"github.com/aelwyn/go-drafter/internal/gateway"
)

// meteredGateway wraps a gateway client with a call allowance and running
// usage totals. One metered gateway serves one activity invocation; fan-out
// units share it, so counters are mutex-guarded.
type meteredGateway struct {
	client gateway.Client
	limit  int64

	mu         sync.Mutex
	calls      int64
	usage      gateway.NormalizedUsage
	requestIDs []string
}

// newMeteredGateway builds a wrapper allowing at most limit calls. A zero
// or negative limit denies every call, which surfaces budget exhaustion
// from earlier pipeline steps at the first attempted invocation.
func newMeteredGateway(client gateway.Client, limit int64) *meteredGateway {
	return &meteredGateway{client: client, limit: limit}
}

// Invoke forwards to the wrapped client after charging the allowance.
// The call slot is charged on attempt, not success, so failed calls still
// consume budget: a flapping provider cannot stretch a run indefinitely.
func (g *meteredGateway) Invoke(ctx context.Context, req *gateway.Request) (*gateway.Reply, error) {
	g.mu.Lock()
	if g.calls >= g.limit {
		used := g.calls
		g.mu.Unlock()
		return nil, domain.NewBudgetExceededError(domain.BudgetCalls, g.limit, used)
	}
	g.calls++
	g.mu.Unlock()

	reply, err := g.client.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.usage.Add(reply.Usage)
	g.requestIDs = append(g.requestIDs, reply.ProviderRequestIDs...)
	g.mu.Unlock()

	return reply, nil
}

// stats returns the calls made, aggregate usage, and collected provider
// request IDs so far.
func (g *meteredGateway) stats() (int64, gateway.NormalizedUsage, []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, len(g.requestIDs))
	copy(ids, g.requestIDs)
	return g.calls, g.usage, ids
}
