package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

// responsePreviewLen bounds the response text logged when prompts are not
// redacted.
const responsePreviewLen = 200

// LoggingMiddleware logs one record per logical call, including the time
// spent in retries and rate limit waits.
type LoggingMiddleware struct {
	logger        *slog.Logger
	redactPrompts bool
}

// NewLoggingMiddleware returns the call-level logging middleware. Requests
// without a TraceID are assigned one so every attempt logs the same id.
func NewLoggingMiddleware(cfg configuration.ObservabilityConfig, logger *slog.Logger) transport.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	lm := &LoggingMiddleware{logger: logger, redactPrompts: cfg.RedactPrompts}
	return lm.Middleware
}

// Middleware wraps next with request and outcome logging.
func (m *LoggingMiddleware) Middleware(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if req.TraceID == "" {
			req.TraceID = uuid.NewString()
		}

		m.logRequest(ctx, req)

		start := time.Now()
		resp, err := next.Handle(ctx, req)
		duration := time.Since(start)

		if err != nil {
			m.logError(ctx, req, err, duration)
		} else if resp != nil {
			m.logSuccess(ctx, req, resp, duration)
		}
		return resp, err
	})
}

func (m *LoggingMiddleware) baseFields(req *transport.Request) []any {
	return []any{
		"request_id", req.TraceID,
		"provider", req.Provider,
		"model", req.Model,
		"operation", req.Operation,
	}
}

func (m *LoggingMiddleware) logRequest(ctx context.Context, req *transport.Request) {
	fields := append(m.baseFields(req),
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"max_tokens", req.MaxTokens,
		"timeout_seconds", req.Timeout.Seconds(),
	)
	if n := len(req.Messages); n > 0 {
		last := req.Messages[n-1].Content
		if m.redactPrompts {
			fields = append(fields, "prompt_length", len(last))
		} else {
			fields = append(fields, "prompt", last)
		}
	}
	m.logger.DebugContext(ctx, "LLM request started", fields...)
}

func (m *LoggingMiddleware) logError(ctx context.Context, req *transport.Request, err error, duration time.Duration) {
	errorType := llmerrors.ErrorTypeUnknown
	if wfErr := llmerrors.ClassifyLLMError(err); wfErr != nil {
		errorType = wfErr.Type
	}

	fields := append(m.baseFields(req),
		"duration_ms", duration.Milliseconds(),
		"error_type", errorType,
		"retryable", llmerrors.IsRetryableError(err),
		"error", err.Error(),
	)
	if after := llmerrors.GetRetryAfter(err); after > 0 {
		fields = append(fields, "retry_after_s", after)
	}
	m.logger.ErrorContext(ctx, "LLM request failed", fields...)
}

func (m *LoggingMiddleware) logSuccess(
	ctx context.Context,
	req *transport.Request,
	resp *transport.Response,
	duration time.Duration,
) {
	fields := append(m.baseFields(req),
		"duration_ms", duration.Milliseconds(),
		"finish_reason", resp.FinishReason,
		"tool_calls", len(resp.ToolCalls),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens,
		"provider_request_id", resp.RequestID,
	)

	if m.redactPrompts {
		fields = append(fields, "response_length", len(resp.Content))
	} else {
		content := resp.Content
		if len(content) > responsePreviewLen {
			content = content[:responsePreviewLen] + "..."
		}
		fields = append(fields, "response_preview", content)
	}

	m.logger.InfoContext(ctx, "LLM request completed", fields...)
}
