// Package gateway provides a unified, resilient HTTP client for
// generative model providers. It composes a middleware pipeline of
// logging, response caching, retry with backoff, and local rate
// limiting around provider-specific adapters, so the drafting core can
// treat every provider as one Invoke call.
//
// Architecture:
//   - Provider-agnostic interface with an adapter per provider
//   - Middleware chain for composable resilience and observability
//   - Request/response only; conversation history travels with the request
//   - Success-only caching keyed by idempotency key and content digest
//   - Graceful degradation when Redis is unavailable
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aelwyn/go-drafter/internal/gateway/cache"
	"github.com/aelwyn/go-drafter/internal/gateway/providers"
	"github.com/aelwyn/go-drafter/internal/gateway/ratelimit"
	"github.com/aelwyn/go-drafter/internal/gateway/retry"
	"github.com/aelwyn/go-drafter/internal/gateway/transport"
)

// Aliases re-export the transport types that make up the client's
// surface, so callers need only this package.
type (
	Request         = transport.Request
	Reply           = transport.Reply
	History         = transport.History
	Turn            = transport.Turn
	Role            = transport.Role
	OperationType   = transport.OperationType
	NormalizedUsage = transport.NormalizedUsage
	FinishReason    = transport.FinishReason
)

const (
	RoleSystem    = transport.RoleSystem
	RoleUser      = transport.RoleUser
	RoleAssistant = transport.RoleAssistant

	OpDraft       = transport.OpDraft
	OpConvert     = transport.OpConvert
	OpSynthesize  = transport.OpSynthesize
	FinishStop    = transport.FinishStop
	FinishLength  = transport.FinishLength
	FinishUnknown = transport.FinishUnknown
)

// Client executes generative calls through the full middleware pipeline.
// Implementations must support externally imposed timeouts through the
// request context and retain no per-call resources after Invoke returns.
type Client interface {
	// Invoke replays the request's conversation against its provider and
	// returns the normalized reply.
	Invoke(ctx context.Context, req *Request) (*Reply, error)
}

type client struct {
	config  *Config
	handler transport.Handler
}

// NewClient assembles a production-ready gateway client. The middleware
// stack, outermost first: logging, cache, retry, rate limit, transport.
// The rate limiter sits inside retry so a denied admission is retried
// with the limiter's own guidance; the cache sits outside so retried
// calls cannot fan out into duplicate cache writes.
func NewClient(ctx context.Context, cfg *Config) (Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	router, err := providers.NewRouter(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          DefaultMaxIdleConns,
				IdleConnTimeout:       DefaultIdleTimeoutSeconds * time.Second,
				TLSHandshakeTimeout:   DefaultTLSTimeoutSeconds * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
			Timeout: cfg.HTTPTimeout,
		}
	}

	core := transport.NewHTTPHandler(httpClient, router)

	// Attempt-level middleware runs once per retry attempt.
	rlMiddleware, err := ratelimit.NewMiddleware(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	attemptHandler := transport.Chain(core, rlMiddleware)

	retryMiddleware, err := retry.NewMiddleware(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize retry middleware: %w", err)
	}

	// Call-level middleware runs once per logical call.
	cacheMiddleware, err := cache.NewMiddleware(ctx, cfg.Cache, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	handler := transport.Chain(retryMiddleware(attemptHandler),
		newLoggingMiddleware(cfg.RedactPrompts),
		cacheMiddleware,
	)

	return &client{config: cfg, handler: handler}, nil
}

// NewClientWithHandler wraps a prebuilt handler in the Client interface.
// Used by tests and the one-shot CLI path to bypass middleware assembly.
func NewClientWithHandler(h transport.Handler) Client {
	return &client{handler: h}
}

// Invoke implements Client. The request is validated before it enters
// the pipeline so malformed requests fail fast without burning retries.
func (c *client) Invoke(ctx context.Context, req *Request) (*Reply, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid gateway request: %w", err)
	}
	return c.handler.Handle(ctx, req)
}
