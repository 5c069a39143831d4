// Package retry provides the gateway's retry middleware: exponential
// backoff with full jitter, respect for provider Retry-After guidance,
// and classification-driven decisions about which failures are worth
// another attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/aelwyn/go-drafter/internal/gateway/gerrors"
	"github.com/aelwyn/go-drafter/internal/gateway/transport"
)

var (
	// Configuration validation errors.
	errMaxAttemptsInvalid     = errors.New("max attempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initial interval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("max interval must be >= initial interval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")

	// Runtime errors.
	errContextCancelledBeforeRetry = errors.New("context cancelled before retry")
	errContextCancelledDuringRetry = errors.New("context cancelled during retry")
	errAllRetriesExhausted         = errors.New("all retries exhausted")
)

// Config controls the retry middleware.
type Config struct {
	MaxAttempts     int           `json:"max_attempts"     yaml:"max_attempts"     validate:"gte=1"`
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `json:"max_interval"     yaml:"max_interval"`
	Multiplier      float64       `json:"multiplier"       yaml:"multiplier"       validate:"gte=1"`
	MaxElapsedTime  time.Duration `json:"max_elapsed_time" yaml:"max_elapsed_time" validate:"gte=0"`
	UseJitter       bool          `json:"use_jitter"       yaml:"use_jitter"`
}

// DefaultConfig returns production-safe retry settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  45 * time.Second,
		UseJitter:       true,
	}
}

// NewMiddleware creates retry middleware with the given configuration.
func NewMiddleware(cfg Config) (transport.Middleware, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, cfg.MaxAttempts)
	}
	if cfg.InitialInterval <= 0 {
		return nil, fmt.Errorf("%w, got %v", errInitialIntervalInvalid, cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("%w, got max %v initial %v", errMaxIntervalInvalid, cfg.MaxInterval, cfg.InitialInterval)
	}
	if cfg.Multiplier < 1.0 {
		return nil, fmt.Errorf("%w, got %f", errMultiplierInvalid, cfg.Multiplier)
	}

	rm := &retryMiddleware{
		config: cfg,
		logger: slog.Default().With("component", "retry"),
	}
	return rm.middleware(), nil
}

type retryMiddleware struct {
	config Config
	logger *slog.Logger
}

func (r *retryMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", errContextCancelledBeforeRetry, ctx.Err())
			default:
			}

			var lastErr error
			start := time.Now()

			for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
				if r.config.MaxElapsedTime > 0 && time.Since(start) > r.config.MaxElapsedTime {
					r.logger.Warn("retry time budget exceeded",
						"elapsed", time.Since(start),
						"attempts", attempt-1,
						"last_error", lastErr)
					break
				}

				reply, err := next.Handle(ctx, req)
				if err == nil {
					if attempt > 1 {
						r.logger.Info("request succeeded after retry",
							"attempt", attempt,
							"provider", req.Provider,
							"model", req.Model)
					}
					return reply, nil
				}

				if !gerrors.IsRetryable(err) {
					r.logger.Debug("non-retryable error",
						"error", err,
						"kind", gerrors.KindOf(err),
						"attempt", attempt,
						"provider", req.Provider)
					return nil, err
				}

				lastErr = err
				if attempt == r.config.MaxAttempts {
					break
				}

				backoff := r.backoff(attempt, err)
				if r.config.MaxElapsedTime > 0 && time.Since(start)+backoff > r.config.MaxElapsedTime {
					// Provider guidance may exceed the time budget; fall back
					// to the exponential schedule before giving up.
					backoff = r.exponential(attempt)
					if time.Since(start)+backoff > r.config.MaxElapsedTime {
						r.logger.Warn("retry time budget exceeded",
							"elapsed", time.Since(start),
							"attempts", attempt,
							"last_error", err)
						break
					}
				}

				r.logger.Debug("retrying after backoff",
					"attempt", attempt,
					"backoff", backoff,
					"error", err,
					"provider", req.Provider)

				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, fmt.Errorf("%w: %w", errContextCancelledDuringRetry, ctx.Err())
				}
			}

			return nil, fmt.Errorf("%w after %d attempts: %w",
				errAllRetriesExhausted, r.config.MaxAttempts, lastErr)
		})
	}
}

// backoff computes the delay before the next attempt. Explicit provider
// guidance wins; otherwise exponential backoff with optional full jitter.
func (r *retryMiddleware) backoff(attempt int, err error) time.Duration {
	if after := gerrors.RetryAfter(err); after > 0 {
		return after
	}
	return r.exponential(attempt)
}

// exponential computes the backoff schedule for an attempt, ignoring
// provider guidance.
func (r *retryMiddleware) exponential(attempt int) time.Duration {
	backoff := r.config.InitialInterval
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * r.config.Multiplier)
		if backoff > r.config.MaxInterval {
			backoff = r.config.MaxInterval
			break
		}
	}

	if r.config.UseJitter {
		// Full jitter: random between 0 and the computed backoff.
		jitterMs := rand.Int64N(backoff.Milliseconds() + 1)
		return time.Duration(jitterMs) * time.Millisecond
	}
	return backoff
}
