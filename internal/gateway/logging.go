package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aelwyn/go-drafter/internal/gateway/gerrors"
	"github.com/aelwyn/go-drafter/internal/gateway/transport"
)

// loggingMiddleware captures the request lifecycle with structured logs:
// one line on entry, one on completion with latency and usage, and error
// classification for failures.
type loggingMiddleware struct {
	logger        *slog.Logger
	redactPrompts bool
}

func newLoggingMiddleware(redactPrompts bool) transport.Middleware {
	lm := &loggingMiddleware{
		logger:        slog.Default().With("component", "gateway"),
		redactPrompts: redactPrompts,
	}
	return lm.middleware
}

func (m *loggingMiddleware) middleware(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Reply, error) {
		requestID := req.TraceID
		if requestID == "" {
			requestID = uuid.New().String()
		}

		attrs := []any{
			"request_id", requestID,
			"provider", req.Provider,
			"model", req.Model,
			"operation", string(req.Operation),
			"tenant", req.TenantID,
			"turns", len(req.History),
		}
		if !m.redactPrompts && len(req.History) > 0 {
			attrs = append(attrs, "prompt_preview", preview(req.History[len(req.History)-1].Content))
		}
		m.logger.Debug("gateway request", attrs...)

		start := time.Now()
		reply, err := next.Handle(ctx, req)
		duration := time.Since(start)

		if err != nil {
			m.logger.Error("gateway request failed",
				"request_id", requestID,
				"provider", req.Provider,
				"model", req.Model,
				"operation", string(req.Operation),
				"duration_ms", duration.Milliseconds(),
				"error_kind", string(gerrors.KindOf(err)),
				"error", err)
			return reply, err
		}

		m.logger.Info("gateway request complete",
			"request_id", requestID,
			"provider", req.Provider,
			"model", req.Model,
			"operation", string(req.Operation),
			"duration_ms", duration.Milliseconds(),
			"finish_reason", string(reply.FinishReason),
			"prompt_tokens", reply.Usage.PromptTokens,
			"completion_tokens", reply.Usage.CompletionTokens)
		return reply, nil
	})
}

const previewLen = 120

// preview truncates content for log lines.
func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen] + "…"
}
