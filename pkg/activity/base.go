// Package activity holds helpers shared by Temporal activity types. Outside
// an activity they fall back to slog and no-ops, so activity code runs
// unchanged under plain unit tests.
package activity

import (
	"context"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/log"

	"github.com/ahrav/go-evalrun/pkg/events"
)

// Execution identifies the workflow run and activity attempt behind a
// context.
type Execution struct {
	WorkflowID string
	RunID      string
	ActivityID string
	Attempt    int32
}

// ExecutionFrom returns the execution of ctx, or the zero Execution when ctx
// does not belong to an activity.
func ExecutionFrom(ctx context.Context) Execution {
	if !activity.IsActivity(ctx) {
		return Execution{}
	}
	info := activity.GetInfo(ctx)
	return Execution{
		WorkflowID: info.WorkflowExecution.ID,
		RunID:      info.WorkflowExecution.RunID,
		ActivityID: info.ActivityID,
		Attempt:    info.Attempt,
	}
}

// Logger returns the activity logger of ctx, or slog.Default wrapped as a
// Temporal logger.
func Logger(ctx context.Context) log.Logger {
	if activity.IsActivity(ctx) {
		return activity.GetLogger(ctx)
	}
	return log.NewStructuredLogger(slog.Default())
}

// Heartbeat records details when ctx belongs to an activity.
func Heartbeat(ctx context.Context, details ...any) {
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, details...)
	}
}

const (
	defaultEmitAttempts = 2
	defaultEmitBackoff  = 200 * time.Millisecond
)

// Emitter appends events on behalf of activities. Emission is best effort:
// a failing sink never fails the activity.
type Emitter struct {
	sink     events.EventSink
	attempts int
	backoff  time.Duration
}

// NewEmitter returns an Emitter writing to sink. A nil sink disables
// emission.
func NewEmitter(sink events.EventSink) Emitter {
	return Emitter{sink: sink, attempts: defaultEmitAttempts, backoff: defaultEmitBackoff}
}

// Emit appends env, stamped with the workflow run of ctx when env carries
// none.
func (e Emitter) Emit(ctx context.Context, env events.Envelope) {
	if e.sink == nil {
		return
	}
	if env.WorkflowID == "" {
		exec := ExecutionFrom(ctx)
		env.WorkflowID, env.RunID = exec.WorkflowID, exec.RunID
	}

	logger := Logger(ctx)
	attempts := max(e.attempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = e.sink.Append(ctx, env); err == nil {
			logger.Debug("Event emitted", "event_type", env.Type, "idempotency_key", env.IdempotencyKey)
			return
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(e.backoff):
		case <-ctx.Done():
			logger.Error("Event emission cancelled", "event_type", env.Type, "error", err)
			return
		}
	}
	logger.Error("Event emission failed", "event_type", env.Type, "attempts", attempts, "error", err)
}
