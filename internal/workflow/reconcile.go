package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/reconcile"
)

// ReconcileWorkflow re-emits the outstanding tasks of the entities in the
// request. When the request asks for a scan, or names no entity, the scanned
// RetrySet is merged into the requested one. An empty set completes with an
// empty report.
func ReconcileWorkflow(ctx workflow.Context, req domain.ReconcileRequest) (*reconcile.Report, error) {
	// Version gate for safe evolution of the activity sequence.
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "reconcile.v", workflow.DefaultVersion, currentVersion)

	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid reconcile request",
			"Validation",
			err,
		)
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Duration(req.ActivityTimeout()) * time.Second,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var a *reconcile.Activities
	set := req.RetrySet
	if req.Scan || set.IsEmpty() {
		var scanned domain.RetrySet
		if err := workflow.ExecuteActivity(ctx, a.ScanRetrySet).Get(ctx, &scanned); err != nil {
			return nil, err
		}
		set = set.Merge(scanned)
	}
	if set.IsEmpty() {
		logger.Info("Nothing to reconcile")
		return &reconcile.Report{Answers: map[int64]int{}, Observations: map[int64]int{}}, nil
	}

	var report reconcile.Report
	if err := workflow.ExecuteActivity(ctx, a.RetryEntities, set).Get(ctx, &report); err != nil {
		return nil, err
	}
	logger.Info("Reconcile complete",
		"experiments", len(report.Answers),
		"results", len(report.Observations),
		"tasks", report.Total())
	return &report, nil
}
