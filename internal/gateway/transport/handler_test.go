package transport_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelwyn/go-drafter/internal/gateway/transport"
)

// stubAdapter lets a test script the provider exchange without a real
// provider package.
type stubAdapter struct {
	name  string
	build func(ctx context.Context, req *transport.Request) (*http.Request, error)
	parse func(resp *http.Response) (*transport.Reply, error)
}

func (a *stubAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	return a.build(ctx, req)
}

func (a *stubAdapter) Parse(resp *http.Response) (*transport.Reply, error) {
	return a.parse(resp)
}

func (a *stubAdapter) Name() string { return a.name }

type stubRouter struct {
	adapter transport.ProviderAdapter
	err     error
}

func (r stubRouter) Pick(_, _ string) (transport.ProviderAdapter, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.adapter, nil
}

func echoAdapter() *stubAdapter {
	return &stubAdapter{
		name: "stub",
		build: func(ctx context.Context, req *transport.Request) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, req.Metadata["url"], nil)
		},
		parse: func(resp *http.Response) (*transport.Reply, error) {
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, err
			}
			return &transport.Reply{Text: string(body), FinishReason: transport.FinishStop}, nil
		},
	}
}

func stubRequest(url string) *transport.Request {
	return &transport.Request{
		Operation: transport.OpDraft,
		Provider:  "stub",
		Model:     "stub-model",
		History:   transport.History{{Role: transport.RoleUser, Content: "hi"}},
		Metadata:  map[string]string{"url": url},
	}
}

func TestChain_FirstMiddlewareOutermost(t *testing.T) {
	var order []string
	tag := func(name string) transport.Middleware {
		return func(next transport.Handler) transport.Handler {
			return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
				order = append(order, name+":before")
				reply, err := next.Handle(ctx, req)
				order = append(order, name+":after")
				return reply, err
			})
		}
	}

	core := transport.HandlerFunc(func(_ context.Context, _ *transport.Request) (*transport.Reply, error) {
		order = append(order, "core")
		return &transport.Reply{Text: "done"}, nil
	})

	reply, err := transport.Chain(core, tag("outer"), tag("inner")).Handle(context.Background(), stubRequest(""))
	require.NoError(t, err)
	assert.Equal(t, "done", reply.Text)
	assert.Equal(t, []string{"outer:before", "inner:before", "core", "inner:after", "outer:after"}, order)
}

func TestChain_NoMiddlewareReturnsCore(t *testing.T) {
	core := transport.HandlerFunc(func(_ context.Context, _ *transport.Request) (*transport.Reply, error) {
		return &transport.Reply{Text: "bare"}, nil
	})

	reply, err := transport.Chain(core).Handle(context.Background(), stubRequest(""))
	require.NoError(t, err)
	assert.Equal(t, "bare", reply.Text)
}

func TestHTTPHandler_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(5 * time.Millisecond)
		_, _ = w.Write([]byte("provider says hello"))
	}))
	defer server.Close()

	handler := transport.NewHTTPHandler(server.Client(), stubRouter{adapter: echoAdapter()})

	reply, err := handler.Handle(context.Background(), stubRequest(server.URL))
	require.NoError(t, err)
	assert.Equal(t, "provider says hello", reply.Text)
	assert.Equal(t, transport.FinishStop, reply.FinishReason)
	assert.GreaterOrEqual(t, reply.Usage.LatencyMs, int64(1), "latency must be measured around the exchange")
}

func TestHTTPHandler_PerRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("too late"))
	}))
	defer server.Close()

	handler := transport.NewHTTPHandler(server.Client(), stubRouter{adapter: echoAdapter()})

	req := stubRequest(server.URL)
	req.Timeout = 30 * time.Millisecond

	_, err := handler.Handle(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got: %v", err)
}

func TestHTTPHandler_RouterErrorSurfaces(t *testing.T) {
	handler := transport.NewHTTPHandler(http.DefaultClient, stubRouter{err: errors.New("no such provider")})

	_, err := handler.Handle(context.Background(), stubRequest(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to select provider")
}

func TestHTTPHandler_ParseErrorPassesThroughUntouched(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	sentinel := errors.New("provider rejected the request")
	adapter := echoAdapter()
	adapter.parse = func(_ *http.Response) (*transport.Reply, error) { return nil, sentinel }

	handler := transport.NewHTTPHandler(server.Client(), stubRouter{adapter: adapter})

	_, err := handler.Handle(context.Background(), stubRequest(server.URL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel), "adapter errors must not be rewrapped")
}
