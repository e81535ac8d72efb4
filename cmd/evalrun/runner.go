package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-evalrun/internal/worker"
)

func newRunnerCmd(opts *rootOptions) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "runner",
		Short: "Run the worker pool until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := opts.cfg
			if concurrency > 0 {
				cfg.Worker.Concurrency = concurrency
			}
			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			exec, err := a.executor(ctx)
			if err != nil {
				return err
			}
			slog.Info("Starting runner",
				"concurrency", cfg.Worker.Concurrency,
				"queue", cfg.Queue.Backend)
			err = worker.NewPool(a.transport, exec, cfg.Worker).Run(ctx)
			slog.Info("Runner stopped")
			return err
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of worker loops (overrides worker.concurrency)")
	return cmd
}
