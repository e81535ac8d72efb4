package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/pkg/activity"
	"github.com/ahrav/go-evalrun/pkg/events"
)

const (
	eventSource = "reconcile"

	// heartbeatInterval keeps long retries alive under the workflow's
	// heartbeat timeout.
	heartbeatInterval = 10 * time.Second
)

// Activities exposes the engine as Temporal activities.
type Activities struct {
	emitter activity.Emitter
	engine  *Engine
}

// NewActivities creates reconcile activities.
func NewActivities(emitter activity.Emitter, engine *Engine) *Activities {
	return &Activities{emitter: emitter, engine: engine}
}

// ScanRetrySet derives the RetrySet from the store.
func (a *Activities) ScanRetrySet(ctx context.Context) (domain.RetrySet, error) {
	stop := a.heartbeat(ctx)
	defer stop()

	set, err := a.engine.Scan(ctx)
	if err != nil {
		return domain.RetrySet{}, classify("ScanRetrySet", err, "scan failed")
	}
	activity.Logger(ctx).Info("Scanned retry set",
		"experiments", len(set.Experiments()), "results", len(set.Results()))
	return set, nil
}

// RetryEntities re-emits the outstanding tasks of set and emits a
// reconcile.completed event. Invalid sets and missing entities fail without
// retry.
func (a *Activities) RetryEntities(ctx context.Context, set domain.RetrySet) (*Report, error) {
	if err := set.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError("invalid retry set", "Validation", err)
	}

	exec := activity.ExecutionFrom(ctx)
	logger := activity.Logger(ctx)
	logger.Info("Starting RetryEntities activity",
		"workflow_id", exec.WorkflowID,
		"activity_id", exec.ActivityID,
		"attempt", exec.Attempt)

	stop := a.heartbeat(ctx)
	report, err := a.engine.Retry(ctx, set)
	stop()
	if err != nil {
		return nil, classify("RetryEntities", err, "retry failed")
	}

	env, err := events.NewEnvelope(events.TypeReconcileCompleted, eventSource, exec.WorkflowID, completed{
		Experiments: len(report.Answers),
		Results:     len(report.Observations),
		Tasks:       report.Total(),
	})
	if err != nil {
		logger.Error("Failed to build reconcile event", "error", err)
		return report, nil
	}
	a.emitter.Emit(ctx, env)
	return report, nil
}

type completed struct {
	Experiments int `json:"experiments"`
	Results     int `json:"results"`
	Tasks       int `json:"tasks"`
}

// heartbeat records heartbeats until the returned function is called.
func (*Activities) heartbeat(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				activity.Heartbeat(ctx)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}

// classify maps engine errors to Temporal application errors. Missing
// entities and invalid input are permanent.
func classify(tag string, err error, msg string) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidTask) {
		return temporal.NewNonRetryableApplicationError(msg, tag, err)
	}
	return temporal.NewApplicationError(fmt.Sprintf("%s: %v", msg, err), tag, err)
}
