package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Router selects the appropriate provider adapter for request routing.
// Implemented by the providers package.
type Router interface {
	Pick(provider, model string) (ProviderAdapter, error)
}

// ProviderAdapter abstracts provider-specific HTTP communication. Each
// provider implements this interface to handle its own API format,
// authentication scheme, and response structure.
type ProviderAdapter interface {
	// Build constructs a provider-specific HTTP request from a normalized
	// gateway request, including authentication and endpoint selection.
	Build(ctx context.Context, req *Request) (*http.Request, error)

	// Parse extracts a normalized Reply from the provider's HTTP response,
	// converting provider error payloads to typed errors.
	Parse(httpResp *http.Response) (*Reply, error)

	// Name returns the canonical provider identifier.
	Name() string
}

// Handler processes gateway requests through a composable middleware
// pipeline. Core abstraction enabling request preprocessing, response
// postprocessing, and cross-cutting concerns like caching, rate limiting,
// and observability.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Reply, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Reply, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Reply, error) {
	return f(ctx, req)
}

// Middleware transforms a Handler into an enhanced Handler.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler. Middleware
// executes in the order provided with the first middleware outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewHTTPHandler creates the core handler that performs the provider
// HTTP exchange. Every network resource it touches is scoped to the one
// call: the request context carries the per-call timeout and the response
// body is closed on all paths.
func NewHTTPHandler(client *http.Client, router Router) Handler {
	return &httpHandler{client: client, router: router}
}

type httpHandler struct {
	client *http.Client
	router Router
}

// Handle implements Handler by making an HTTP request to the provider
// selected for the request.
func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Reply, error) {
	adapter, err := h.router.Pick(req.Provider, req.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to select provider: %w", err)
	}

	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := adapter.Build(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	reply, err := adapter.Parse(httpResp)
	if err != nil {
		return nil, err
	}

	reply.Usage.LatencyMs = latency.Milliseconds()
	return reply, nil
}
