package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-evalrun/internal/config"
	"github.com/ahrav/go-evalrun/internal/worker"
)

func dialTemporal(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    log.NewStructuredLogger(slog.Default().With("component", "temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to temporal at %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

func newTemporalWorkerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "temporal-worker",
		Short: "Serve the reconcile workflow and its activities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := dialTemporal(opts.cfg.Temporal)
			if err != nil {
				return err
			}
			defer c.Close()

			w := sdkworker.New(c, opts.cfg.Temporal.TaskQueue, sdkworker.Options{})
			worker.RegisterAll(w, a.engine(), a.sink)

			slog.Info("Starting temporal worker",
				"task_queue", opts.cfg.Temporal.TaskQueue,
				"namespace", opts.cfg.Temporal.Namespace)
			return w.Run(sdkworker.InterruptCh())
		},
	}
}
