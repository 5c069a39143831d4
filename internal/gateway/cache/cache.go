// Package cache provides Redis-based response caching for the gateway.
// Identical idempotent requests are served from cache; misses acquire a
// short lease so only one process performs the provider call while
// others wait for its result. Redis being unreachable degrades the
// middleware to a pass-through rather than failing requests.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aelwyn/go-drafter/internal/gateway/transport"
)

const (
	keyPrefix = "drafter:gateway:v1"

	defaultPoolSize = 10
	connectTimeout  = 5 * time.Second

	leaseTimeout       = 30 * time.Second
	retryCheckInterval = 100 * time.Millisecond
	cleanupTimeout     = 5 * time.Second
)

// Config controls the response cache.
type Config struct {
	Enabled       bool          `json:"enabled"        yaml:"enabled"`
	RedisAddr     string        `json:"redis_addr"     yaml:"redis_addr"`
	RedisPassword string        `json:"-"              yaml:"redis_password"`
	RedisDB       int           `json:"redis_db"       yaml:"redis_db"`
	TTL           time.Duration `json:"ttl"            yaml:"ttl"`
}

// DefaultConfig returns cache settings suitable for a local Redis.
func DefaultConfig() Config {
	return Config{Enabled: false, RedisAddr: "localhost:6379", TTL: 24 * time.Hour}
}

// NewMiddleware creates caching middleware. If client is nil and caching
// is enabled, a client is created from cfg; a failed connection disables
// the cache so requests still flow.
func NewMiddleware(ctx context.Context, cfg Config, client *redis.Client) (transport.Middleware, error) {
	if client == nil && cfg.Enabled {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: defaultPoolSize,
		})

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			slog.Warn("redis connection failed, cache disabled", "error", err)
			cfg.Enabled = false
		}
	}

	cm := &cacheMiddleware{
		client:  client,
		ttl:     cfg.TTL,
		enabled: cfg.Enabled,
		logger:  slog.Default().With("component", "cache"),
	}
	return cm.middleware(), nil
}

type cacheMiddleware struct {
	client  *redis.Client
	ttl     time.Duration
	enabled bool
	logger  *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// cachedReply is the persisted subset of a Reply. Headers and the raw
// body are deliberately not cached.
type cachedReply struct {
	Text               string                    `json:"text"`
	FinishReason       transport.FinishReason    `json:"finish_reason"`
	ProviderRequestIDs []string                  `json:"provider_request_ids,omitempty"`
	Usage              transport.NormalizedUsage `json:"usage"`
	CachedAt           time.Time                 `json:"cached_at"`
}

func (c *cacheMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
			// Only idempotent requests are cacheable.
			if !c.enabled || req.IdempotencyKey == "" {
				return next.Handle(ctx, req)
			}

			key := buildKey(req)
			if reply, ok := c.lookup(ctx, key); ok {
				c.hits.Add(1)
				c.logger.Debug("cache hit",
					"key", key,
					"provider", req.Provider,
					"model", req.Model,
					"operation", req.Operation)
				return reply, nil
			}
			c.misses.Add(1)

			leaseKey := key + ":lease"
			acquired, err := c.client.SetNX(ctx, leaseKey, "1", leaseTimeout).Result()
			if err != nil {
				// Degrade to pass-through on Redis failure.
				c.errors.Add(1)
				c.logger.Warn("cache lease failed, bypassing cache", "error", err)
				return next.Handle(ctx, req)
			}

			if !acquired {
				// Another process holds the lease; wait for its result.
				if reply, ok := c.awaitResult(ctx, key); ok {
					c.hits.Add(1)
					return reply, nil
				}
				// Lease holder vanished or timed out; do the work ourselves.
				return next.Handle(ctx, req)
			}

			defer c.releaseLease(leaseKey)

			reply, err := next.Handle(ctx, req)
			if err != nil {
				return nil, err
			}
			c.store(ctx, key, reply)
			return reply, nil
		})
	}
}

// lookup fetches and decodes a cached reply. Any Redis or decode failure
// reads as a miss.
func (c *cacheMiddleware) lookup(ctx context.Context, key string) (*transport.Reply, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.errors.Add(1)
		}
		return nil, false
	}

	var cached cachedReply
	if err := json.Unmarshal(data, &cached); err != nil {
		c.errors.Add(1)
		c.logger.Warn("corrupt cache entry dropped", "key", key, "error", err)
		return nil, false
	}

	return &transport.Reply{
		Text:               cached.Text,
		FinishReason:       cached.FinishReason,
		ProviderRequestIDs: cached.ProviderRequestIDs,
		Usage:              cached.Usage,
	}, true
}

// awaitResult polls for the lease holder's result until the lease
// window closes or the context is cancelled.
func (c *cacheMiddleware) awaitResult(ctx context.Context, key string) (*transport.Reply, bool) {
	deadline := time.Now().Add(leaseTimeout)
	ticker := time.NewTicker(retryCheckInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
			if reply, ok := c.lookup(ctx, key); ok {
				return reply, true
			}
		}
	}
	return nil, false
}

func (c *cacheMiddleware) store(ctx context.Context, key string, reply *transport.Reply) {
	data, err := json.Marshal(cachedReply{
		Text:               reply.Text,
		FinishReason:       reply.FinishReason,
		ProviderRequestIDs: reply.ProviderRequestIDs,
		Usage:              reply.Usage,
		CachedAt:           time.Now().UTC(),
	})
	if err != nil {
		c.errors.Add(1)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache store failed", "key", key, "error", err)
	}
}

// releaseLease deletes the lease with its own timeout so a cancelled
// request context cannot orphan the lease for the full lease window.
func (c *cacheMiddleware) releaseLease(leaseKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := c.client.Del(ctx, leaseKey).Err(); err != nil {
		c.errors.Add(1)
	}
}

// buildKey derives the cache key from tenant, operation, idempotency
// key, and a digest of everything that shapes the reply. Two requests
// share an entry only when the same conversation goes to the same model.
func buildKey(req *transport.Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%.3f\x00%d\x00", req.Provider, req.Model, req.Temperature, req.MaxTokens)
	for _, turn := range req.History {
		fmt.Fprintf(h, "%s\x1f%s\x1e", turn.Role, turn.Content)
	}
	digest := hex.EncodeToString(h.Sum(nil))[:32]

	return fmt.Sprintf("%s:%s:%s:%s:%s",
		keyPrefix, req.TenantID, req.Operation, req.IdempotencyKey, digest)
}
