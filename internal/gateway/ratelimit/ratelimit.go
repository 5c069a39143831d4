// Package ratelimit provides the gateway's local admission limiter: a
// token bucket per tenant/provider/model key. Exceeding the bucket
// yields a typed rate limit error carrying retry guidance, which the
// retry middleware above it honors, so callers see backpressure instead
// of provider 429s.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aelwyn/go-drafter/internal/gateway/gerrors"
	"github.com/aelwyn/go-drafter/internal/gateway/transport"
)

var (
	errTokensPerSecondInvalid = errors.New("tokens per second must be greater than 0")
	errBurstInvalid           = errors.New("burst must be greater than 0")
)

// staleAfter is how long an unused limiter survives before the next
// sweep reclaims it.
const staleAfter = 30 * time.Minute

// sweepThreshold is the pool size that triggers an opportunistic sweep.
const sweepThreshold = 1024

// Config controls the local admission limiter.
type Config struct {
	Enabled         bool    `json:"enabled"           yaml:"enabled"`
	TokensPerSecond float64 `json:"tokens_per_second" yaml:"tokens_per_second" validate:"gte=0"`
	Burst           int     `json:"burst"             yaml:"burst"             validate:"gte=0"`
}

// DefaultConfig returns conservative local limits.
func DefaultConfig() Config {
	return Config{Enabled: true, TokensPerSecond: 10, Burst: 20}
}

// NewMiddleware creates rate limiting middleware with the given
// configuration. A disabled config yields a pass-through middleware.
func NewMiddleware(cfg Config) (transport.Middleware, error) {
	if !cfg.Enabled {
		return func(next transport.Handler) transport.Handler { return next }, nil
	}
	if cfg.TokensPerSecond <= 0 {
		return nil, fmt.Errorf("%w, got %f", errTokensPerSecondInvalid, cfg.TokensPerSecond)
	}
	if cfg.Burst <= 0 {
		return nil, fmt.Errorf("%w, got %d", errBurstInvalid, cfg.Burst)
	}

	pool := &limiterPool{
		limiters: make(map[string]*timedLimiter),
		rate:     rate.Limit(cfg.TokensPerSecond),
		burst:    cfg.Burst,
		limit:    int(cfg.TokensPerSecond),
	}
	return pool.middleware(), nil
}

// timedLimiter pairs a limiter with its last access time so stale
// entries can be reclaimed without a background goroutine.
type timedLimiter struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// limiterPool holds one token bucket per admission key.
type limiterPool struct {
	mu       sync.Mutex
	limiters map[string]*timedLimiter
	rate     rate.Limit
	burst    int
	limit    int
}

func (p *limiterPool) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
			if err := p.admit(admissionKey(req)); err != nil {
				return nil, err
			}
			return next.Handle(ctx, req)
		})
	}
}

// admissionKey scopes a bucket to one tenant's traffic against one model.
func admissionKey(req *transport.Request) string {
	return req.TenantID + "/" + req.Provider + "/" + req.Model
}

// admit consumes one token from the key's bucket, or returns a
// RateLimitError with the wait that would have been needed. The probe
// reservation is cancelled so failed admissions never leak capacity.
func (p *limiterPool) admit(key string) error {
	limiter := p.get(key)

	if limiter.Allow() {
		return nil
	}

	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	// Minimum one second keeps clients from spinning on sub-second waits.
	retryAfter := int(math.Ceil(delay.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return &gerrors.RateLimitError{
		Provider:   "local",
		Limit:      p.limit,
		RetryAfter: retryAfter,
		LocalLimit: true,
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if tl, ok := p.limiters[key]; ok {
		tl.lastUsed = now
		return tl.limiter
	}

	if len(p.limiters) >= sweepThreshold {
		p.sweepLocked(now)
	}

	tl := &timedLimiter{
		limiter:  rate.NewLimiter(p.rate, p.burst),
		lastUsed: now,
	}
	p.limiters[key] = tl
	return tl.limiter
}

// sweepLocked drops limiters that have not been touched within the
// staleness window. Caller holds the pool lock.
func (p *limiterPool) sweepLocked(now time.Time) {
	for key, tl := range p.limiters {
		if now.Sub(tl.lastUsed) > staleAfter {
			delete(p.limiters, key)
		}
	}
}
