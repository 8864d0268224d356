package llm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LoggingMiddleware logs every call with its latency and token usage.
type LoggingMiddleware struct {
	logger  zerolog.Logger
	started sync.Map // *Request -> time.Time
}

// NewLoggingMiddleware creates a LoggingMiddleware.
func NewLoggingMiddleware(logger zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger.With().Str("component", "llm").Logger()}
}

// BeforeRequest implements Middleware.
func (m *LoggingMiddleware) BeforeRequest(_ context.Context, req *Request) (*Request, error) {
	m.started.Store(req, time.Now())
	m.logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("LLM request")
	return req, nil
}

// AfterResponse implements Middleware.
func (m *LoggingMiddleware) AfterResponse(_ context.Context, req *Request, resp *Response) (*Response, error) {
	evt := m.logger.Debug().
		Str("model", req.Model).
		Dur("elapsed", m.elapsed(req)).
		Int("tool_uses", len(resp.ToolUses())).
		Str("stop_reason", resp.StopReason)
	if resp.Usage != nil {
		evt = evt.Int64("input_tokens", resp.Usage.InputTokens).Int64("output_tokens", resp.Usage.OutputTokens)
	}
	evt.Msg("LLM response")
	return resp, nil
}

// OnError implements Middleware.
func (m *LoggingMiddleware) OnError(_ context.Context, req *Request, err error) error {
	m.logger.Warn().
		Err(err).
		Str("model", req.Model).
		Dur("elapsed", m.elapsed(req)).
		Bool("retryable", IsRetryableError(err)).
		Msg("LLM call failed")
	return nil
}

func (m *LoggingMiddleware) elapsed(req *Request) time.Duration {
	v, ok := m.started.LoadAndDelete(req)
	if !ok {
		return 0
	}
	return time.Since(v.(time.Time))
}

var _ Middleware = (*LoggingMiddleware)(nil)
