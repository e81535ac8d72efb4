package worker

import (
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-evalrun/internal/reconcile"
	"github.com/ahrav/go-evalrun/internal/workflow"
	"github.com/ahrav/go-evalrun/pkg/activity"
	"github.com/ahrav/go-evalrun/pkg/events"
)

// Registrar is the part of a Temporal worker used for registration.
type Registrar interface {
	RegisterWorkflow(w any)
	RegisterActivity(a any)
}

var _ Registrar = sdkworker.Worker(nil)

// RegisterAll registers the reconcile workflow and its activities with a
// Temporal worker. It must be called once, before the worker starts.
func RegisterAll(w Registrar, engine *reconcile.Engine, sink events.EventSink) {
	activities := reconcile.NewActivities(activity.NewEmitter(sink), engine)

	w.RegisterWorkflow(workflow.ReconcileWorkflow)

	w.RegisterActivity(activities.ScanRetrySet)
	w.RegisterActivity(activities.RetryEntities)
}
