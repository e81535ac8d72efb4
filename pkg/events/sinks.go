package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// LogSink writes each event as a structured log record.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging to logger, or to the default logger when
// logger is nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

// Append implements EventSink.
func (s *LogSink) Append(ctx context.Context, e Envelope) error {
	s.logger.InfoContext(ctx, "event",
		"event_id", e.ID,
		"event_type", e.Type,
		"source", e.Source,
		"idempotency_key", e.IdempotencyKey,
		"payload", string(e.Payload))
	return nil
}

// DefaultStream is the Redis stream events are appended to.
const DefaultStream = "evalrun:events"

// RedisStreamSink appends events to a Redis stream with XADD. The stream is
// trimmed approximately to MaxLen entries when MaxLen is positive.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink writing to stream through client.
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) (*RedisStreamSink, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}, nil
}

// Append implements EventSink.
func (s *RedisStreamSink) Append(ctx context.Context, e Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":              e.ID,
			"type":            e.Type,
			"idempotency_key": e.IdempotencyKey,
			"envelope":        data,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Envelope
}

// Append implements EventSink.
func (s *MemorySink) Append(_ context.Context, e Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.events...)
}

// OfType returns the recorded events of one type.
func (s *MemorySink) OfType(eventType string) []Envelope {
	var out []Envelope
	for _, e := range s.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
