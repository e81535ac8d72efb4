// Package workflow implements the Temporal workflows of the evaluation run
// scheduler.
//
// The task queue carries no acknowledgement, so tasks lost to crashed
// workers are recovered by reconciliation. ReconcileWorkflow runs that
// recovery durably: it derives or accepts a RetrySet and re-emits the
// outstanding tasks through the reconcile activities, which Temporal retries
// on transient failures.
//
// Workflows in this package are deterministic. Store access, queue sends and
// event emission happen in activities only.
package workflow
