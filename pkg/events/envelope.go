// Package events provides the event infrastructure used to announce state
// transitions of experiments and results. It defines the Envelope type that
// wraps a JSON payload with routing and idempotency metadata, and the
// EventSink interface events are appended to.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the scheduler.
const (
	TypeResultFinished     = "result.finished"
	TypeExperimentFinished = "experiment.finished"
	TypeReconcileCompleted = "reconcile.completed"
)

// Version is the current envelope schema version.
const Version = "1.0.0"

// Envelope wraps an event payload with consistent metadata.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type identifies the event for routing, e.g. "experiment.finished".
	Type string `json:"type"`

	// Source identifies the emitting component, e.g. "progress".
	Source string `json:"source"`

	// Version enables schema evolution of the payload.
	Version string `json:"version"`

	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is derived from the event type and the entity it
	// describes, so consumers can drop re-announcements of one transition.
	IdempotencyKey string `json:"idempotency_key"`

	// WorkflowID and RunID identify the Temporal execution that triggered the
	// event, when there is one.
	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`

	// Payload contains the event data as JSON. Its schema varies by Type.
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into a fresh envelope. key identifies the
// entity the event is about and is combined with eventType into the
// idempotency key.
func NewEnvelope(eventType, source, key string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		ID:             uuid.NewString(),
		Type:           eventType,
		Source:         source,
		Version:        Version,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: eventType + ":" + key,
		Payload:        data,
	}, nil
}

// EventSink is the destination of emitted events.
type EventSink interface {
	// Append adds an event to the sink with best-effort delivery.
	// Callers should not fail their primary operation because of an error
	// returned here.
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards every event.
type NoOpEventSink struct{}

// Append implements EventSink.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error {
	return nil
}

// NewNoOpEventSink creates a sink that discards events.
func NewNoOpEventSink() EventSink {
	return &NoOpEventSink{}
}
