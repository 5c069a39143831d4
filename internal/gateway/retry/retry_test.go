package retry_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelwyn/go-drafter/internal/gateway/gerrors"
	"github.com/aelwyn/go-drafter/internal/gateway/retry"
	"github.com/aelwyn/go-drafter/internal/gateway/transport"
)

func testConfig() retry.Config {
	return retry.Config{
		MaxAttempts:     3,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      2.0,
		MaxElapsedTime:  10 * time.Second,
		UseJitter:       false,
	}
}

func testRequest() *transport.Request {
	return &transport.Request{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		History:  transport.History{{Role: transport.RoleUser, Content: "draft"}},
	}
}

func retryableProviderError() *gerrors.ProviderError {
	return &gerrors.ProviderError{
		Provider:   "openai",
		StatusCode: http.StatusInternalServerError,
		Kind:       gerrors.KindProvider,
		Message:    "upstream hiccup",
	}
}

func TestNewMiddleware_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  retry.Config
		wantErr string
	}{
		{
			name:   "valid configuration",
			config: testConfig(),
		},
		{
			name: "zero max attempts",
			config: retry.Config{
				InitialInterval: time.Millisecond,
				MaxInterval:     time.Second,
				Multiplier:      2.0,
			},
			wantErr: "max attempts must be greater than 0",
		},
		{
			name: "zero initial interval",
			config: retry.Config{
				MaxAttempts: 3,
				MaxInterval: time.Second,
				Multiplier:  2.0,
			},
			wantErr: "initial interval must be greater than 0",
		},
		{
			name: "max interval below initial",
			config: retry.Config{
				MaxAttempts:     3,
				InitialInterval: 10 * time.Millisecond,
				MaxInterval:     5 * time.Millisecond,
				Multiplier:      2.0,
			},
			wantErr: "max interval must be >= initial interval",
		},
		{
			name: "multiplier below one",
			config: retry.Config{
				MaxAttempts:     3,
				InitialInterval: 10 * time.Millisecond,
				MaxInterval:     20 * time.Millisecond,
				Multiplier:      0.5,
			},
			wantErr: "multiplier must be >= 1.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw, err := retry.NewMiddleware(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, mw)
		})
	}
}

// TestRetry_SucceedsAfterRetryableFailures verifies that transient
// provider failures are retried and the eventual success is returned
// to the caller unchanged.
func TestRetry_SucceedsAfterRetryableFailures(t *testing.T) {
	mw, err := retry.NewMiddleware(testConfig())
	require.NoError(t, err)

	var calls int32
	handler := mw(transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, retryableProviderError()
		}
		return &transport.Reply{Text: "third time lucky"}, nil
	}))

	reply, err := handler.Handle(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", reply.Text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

// TestRetry_NonRetryableFailsImmediately verifies that validation-class
// failures short-circuit without burning further attempts.
func TestRetry_NonRetryableFailsImmediately(t *testing.T) {
	mw, err := retry.NewMiddleware(testConfig())
	require.NoError(t, err)

	var calls int32
	handler := mw(transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &gerrors.ProviderError{
			Provider:   "openai",
			StatusCode: http.StatusBadRequest,
			Kind:       gerrors.KindValidation,
			Message:    "model not found",
		}
	}))

	_, err = handler.Handle(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.NotContains(t, err.Error(), "all retries exhausted")

	var perr *gerrors.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, gerrors.KindValidation, perr.Kind)
}

func TestRetry_Exhaustion(t *testing.T) {
	mw, err := retry.NewMiddleware(testConfig())
	require.NoError(t, err)

	var calls int32
	handler := mw(transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
		atomic.AddInt32(&calls, 1)
		return nil, retryableProviderError()
	}))

	_, err = handler.Handle(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Contains(t, err.Error(), "all retries exhausted after 3 attempts")

	// The final provider failure stays reachable through the wrap chain.
	var perr *gerrors.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
}

// TestRetry_GuidanceExceedingBudgetFallsBack verifies that a Retry-After
// far beyond the time budget does not stall the request; the middleware
// falls back to its own schedule instead.
func TestRetry_GuidanceExceedingBudgetFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.MaxElapsedTime = 200 * time.Millisecond
	mw, err := retry.NewMiddleware(cfg)
	require.NoError(t, err)

	var calls int32
	handler := mw(transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, &gerrors.RateLimitError{Provider: "openai", Limit: 100, RetryAfter: 30}
		}
		return &transport.Reply{Text: "recovered"}, nil
	}))

	start := time.Now()
	reply, err := handler.Handle(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply.Text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Less(t, time.Since(start), time.Second,
		"30s of provider guidance must not be slept on a 200ms budget")
}

func TestRetry_HonorsRetryAfterGuidance(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps for provider guidance")
	}

	mw, err := retry.NewMiddleware(testConfig())
	require.NoError(t, err)

	var calls int32
	handler := mw(transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, &gerrors.RateLimitError{Provider: "openai", Limit: 100, RetryAfter: 1}
		}
		return &transport.Reply{Text: "after guidance"}, nil
	}))

	start := time.Now()
	_, err = handler.Handle(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestRetry_ContextCancelledBeforeCall(t *testing.T) {
	mw, err := retry.NewMiddleware(testConfig())
	require.NoError(t, err)

	var calls int32
	handler := mw(transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
		atomic.AddInt32(&calls, 1)
		return &transport.Reply{}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = handler.Handle(ctx, testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled before retry")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "handler must not run at all")
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.InitialInterval = 500 * time.Millisecond
	cfg.MaxInterval = time.Second
	mw, err := retry.NewMiddleware(cfg)
	require.NoError(t, err)

	var calls int32
	handler := mw(transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
		atomic.AddInt32(&calls, 1)
		return nil, retryableProviderError()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = handler.Handle(ctx, testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled during retry")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestRetry_TimeBudgetStopsFurtherAttempts verifies that a slow first
// attempt consuming the whole budget prevents any second attempt.
func TestRetry_TimeBudgetStopsFurtherAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxElapsedTime = 50 * time.Millisecond
	mw, err := retry.NewMiddleware(cfg)
	require.NoError(t, err)

	var calls int32
	handler := mw(transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(60 * time.Millisecond)
		return nil, retryableProviderError()
	}))

	_, err = handler.Handle(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all retries exhausted")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
