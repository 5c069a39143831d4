package gateway_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelwyn/go-drafter/internal/gateway"
	"github.com/aelwyn/go-drafter/internal/gateway/providers"
	"github.com/aelwyn/go-drafter/internal/gateway/transport"
)

func validRequest() *gateway.Request {
	return &gateway.Request{
		Operation: gateway.OpDraft,
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		TenantID:  "tenant-a",
		History: gateway.History{
			{Role: gateway.RoleUser, Content: "draft the overview"},
		},
	}
}

func TestClient_InvokeRoundtrip(t *testing.T) {
	client := gateway.NewClientWithHandler(transport.HandlerFunc(
		func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
			return &transport.Reply{Text: "drafted: " + req.History[0].Content}, nil
		}))

	reply, err := client.Invoke(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "drafted: draft the overview", reply.Text)
}

func TestClient_InvokeRejectsInvalidRequests(t *testing.T) {
	var calls int32
	client := gateway.NewClientWithHandler(transport.HandlerFunc(
		func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
			atomic.AddInt32(&calls, 1)
			return &transport.Reply{}, nil
		}))

	tests := []struct {
		name   string
		mutate func(req *gateway.Request)
	}{
		{
			name:   "missing provider",
			mutate: func(req *gateway.Request) { req.Provider = "" },
		},
		{
			name:   "unknown operation",
			mutate: func(req *gateway.Request) { req.Operation = "translate" },
		},
		{
			name:   "empty history",
			mutate: func(req *gateway.Request) { req.History = nil },
		},
		{
			name:   "temperature out of range",
			mutate: func(req *gateway.Request) { req.Temperature = 3.0 },
		},
		{
			name:   "invalid turn role",
			mutate: func(req *gateway.Request) { req.History[0].Role = "narrator" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			_, err := client.Invoke(context.Background(), req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid gateway request")
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "invalid requests must not reach the pipeline")
}

func TestNewClient_RequiresProviders(t *testing.T) {
	_, err := gateway.NewClient(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid gateway config")
}

func TestNewClient_MinimalConfig(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.Providers = map[string]providers.Config{
		providers.ProviderOpenAI: {APIKey: "test-key"},
	}

	client, err := gateway.NewClient(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, client)
}

// TestClient_FullStackRetriesAgainstServer drives the assembled pipeline
// against a real HTTP server that fails twice before succeeding, proving
// that retry, provider adaptation, and usage normalization compose.
func TestClient_FullStackRetriesAgainstServer(t *testing.T) {
	var (
		requests   int32
		authHeader atomic.Value
		idemHeader atomic.Value
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		authHeader.Store(r.Header.Get("Authorization"))
		idemHeader.Store(r.Header.Get("Idempotency-Key"))

		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error": {"message": "upstream hiccup", "type": "server_error"}}`)
			return
		}
		w.Header().Set("x-request-id", "req-final")
		fmt.Fprint(w, `{
			"id": "chatcmpl-final",
			"choices": [{"message": {"role": "assistant", "content": "It worked."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 10, "total_tokens": 30}
		}`)
	}))
	defer server.Close()

	cfg := gateway.DefaultConfig()
	cfg.Providers = map[string]providers.Config{
		providers.ProviderOpenAI: {APIKey: "test-key", Endpoint: server.URL},
	}
	cfg.HTTPClient = server.Client()
	cfg.Retry.InitialInterval = 5 * time.Millisecond
	cfg.Retry.MaxInterval = 20 * time.Millisecond
	cfg.Retry.UseJitter = false
	cfg.RateLimit.Enabled = false

	client, err := gateway.NewClient(context.Background(), cfg)
	require.NoError(t, err)

	req := validRequest()
	req.IdempotencyKey = "idem-42"

	reply, err := client.Invoke(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&requests), "two failures then a success")
	assert.Equal(t, "It worked.", reply.Text)
	assert.Equal(t, gateway.FinishStop, reply.FinishReason)
	assert.Equal(t, int64(30), reply.Usage.TotalTokens)
	assert.Contains(t, reply.ProviderRequestIDs, "req-final")
	assert.Contains(t, reply.ProviderRequestIDs, "chatcmpl-final")
	assert.Equal(t, "Bearer test-key", authHeader.Load())
	assert.Equal(t, "idem-42", idemHeader.Load())
}
