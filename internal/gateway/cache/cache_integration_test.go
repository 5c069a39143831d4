//go:build integration
// +build integration

package cache_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redisContainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/aelwyn/go-drafter/internal/gateway/cache"
	"github.com/aelwyn/go-drafter/internal/gateway/transport"
)

// setupRedisContainer starts a disposable Redis and returns its
// host:port endpoint.
func setupRedisContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := redisContainer.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start redis container")

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func cacheableRequest(idemKey string) *transport.Request {
	return &transport.Request{
		TenantID:       "tenant-a",
		Operation:      transport.OpConvert,
		Provider:       "openai",
		Model:          "gpt-4o-mini",
		IdempotencyKey: idemKey,
		Temperature:    0.2,
		MaxTokens:      512,
		History: transport.History{
			{Role: transport.RoleUser, Content: "convert these rows"},
		},
	}
}

func TestCache_MissThenHit(t *testing.T) {
	endpoint := setupRedisContainer(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })

	mw, err := cache.NewMiddleware(ctx, cache.Config{Enabled: true, TTL: time.Minute}, client)
	require.NoError(t, err)

	var calls int32
	handler := mw(transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
		atomic.AddInt32(&calls, 1)
		return &transport.Reply{
			Text:               "converted records",
			FinishReason:       transport.FinishStop,
			ProviderRequestIDs: []string{"req-original"},
			Usage: transport.NormalizedUsage{
				PromptTokens:     10,
				CompletionTokens: 5,
				TotalTokens:      15,
				LatencyMs:        42,
			},
		}, nil
	}))

	first, err := handler.Handle(ctx, cacheableRequest("idem-cache-1"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	second, err := handler.Handle(ctx, cacheableRequest("idem-cache-1"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call must be served from cache")

	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.FinishReason, second.FinishReason)
	assert.Equal(t, first.ProviderRequestIDs, second.ProviderRequestIDs)
	assert.Equal(t, first.Usage, second.Usage)
}

func TestCache_DistinctIdempotencyKeys(t *testing.T) {
	endpoint := setupRedisContainer(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })

	mw, err := cache.NewMiddleware(ctx, cache.Config{Enabled: true, TTL: time.Minute}, client)
	require.NoError(t, err)

	var calls int32
	handler := mw(transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
		atomic.AddInt32(&calls, 1)
		return &transport.Reply{Text: "converted records"}, nil
	}))

	_, err = handler.Handle(ctx, cacheableRequest("idem-a"))
	require.NoError(t, err)
	_, err = handler.Handle(ctx, cacheableRequest("idem-b"))
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "distinct idempotency keys never share entries")
}
