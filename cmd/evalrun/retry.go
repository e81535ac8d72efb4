package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/reconcile"
	"github.com/ahrav/go-evalrun/internal/workflow"
)

type retryOptions struct {
	set      domain.RetrySet
	scan     bool
	temporal bool
	timeout  int
}

func newRetryCmd(opts *rootOptions) *cobra.Command {
	ro := &retryOptions{}
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-enqueue the failed and missing tasks of experiments and results",
		Long: `Retry rebases the counters of the named experiments and results and
re-enqueues every line without a successful row. The --unfinished variants
repair entities whose tasks were lost; the plain variants retry failures.
With --scan the set is derived from the store, which is only accurate while no
worker is running. With --temporal the repair runs as a durable workflow on
the temporal-worker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := domain.ReconcileRequest{RetrySet: ro.set, Scan: ro.scan, TimeoutSeconds: ro.timeout}
			if err := req.Validate(); err != nil {
				return fmt.Errorf("invalid retry request: %w", err)
			}
			if !ro.scan && req.RetrySet.IsEmpty() {
				return fmt.Errorf("nothing to retry: name entities or pass --scan")
			}

			var (
				report *reconcile.Report
				err    error
			)
			if ro.temporal {
				report, err = retryWithTemporal(cmd, opts, req)
			} else {
				report, err = retryInProcess(cmd, opts, req)
			}
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	f := cmd.Flags()
	f.Int64SliceVar(&ro.set.ExperimentIDs, "experiment", nil, "experiment ids whose failed answers are retried")
	f.Int64SliceVar(&ro.set.ResultIDs, "result", nil, "result ids whose failed observations are retried")
	f.Int64SliceVar(&ro.set.UnfinishedExperimentIDs, "unfinished-experiment", nil, "experiment ids with lost answer tasks")
	f.Int64SliceVar(&ro.set.UnfinishedResultIDs, "unfinished-result", nil, "result ids with lost observation tasks")
	f.BoolVar(&ro.scan, "scan", false, "derive the retry set from the store")
	f.BoolVar(&ro.temporal, "temporal", false, "run the repair as a Temporal workflow")
	f.IntVar(&ro.timeout, "timeout", 0, "activity timeout in seconds for --temporal (default 600)")
	return cmd
}

func retryInProcess(cmd *cobra.Command, opts *rootOptions, req domain.ReconcileRequest) (*reconcile.Report, error) {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts.cfg)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	engine := a.engine()
	set := req.RetrySet
	if req.Scan {
		scanned, err := engine.Scan(ctx)
		if err != nil {
			return nil, err
		}
		set = set.Merge(scanned)
	}
	if set.IsEmpty() {
		return &reconcile.Report{Answers: map[int64]int{}, Observations: map[int64]int{}}, nil
	}
	return engine.Retry(ctx, set)
}

func retryWithTemporal(cmd *cobra.Command, opts *rootOptions, req domain.ReconcileRequest) (*reconcile.Report, error) {
	ctx := cmd.Context()
	c, err := dialTemporal(opts.cfg.Temporal)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "reconcile-" + uuid.NewString(),
		TaskQueue: opts.cfg.Temporal.TaskQueue,
	}, workflow.ReconcileWorkflow, req)
	if err != nil {
		return nil, fmt.Errorf("start reconcile workflow: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "workflow %s started (run %s)\n", run.GetID(), run.GetRunID())

	var report reconcile.Report
	if err := run.Get(ctx, &report); err != nil {
		return nil, fmt.Errorf("reconcile workflow %s: %w", run.GetID(), err)
	}
	return &report, nil
}
