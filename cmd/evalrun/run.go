package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/store"
)

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid experiment id %q", arg)
	}
	return id, nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <experiment-id>",
		Short: "Start a newly created experiment",
		Long: `Start dispatches the answers stage of an experiment with a model. Without a
model the answers are seeded from the dataset output column and the
observations stage is dispatched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.dispatcher.Start(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("start experiment %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "experiment %d: %d tasks enqueued\n", id, n)
			return nil
		},
	}
}

func newDispatchCmd(opts *rootOptions) *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "dispatch <experiment-id>",
		Short: "Enqueue the outstanding tasks of one experiment stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := domain.ParseStage(stage)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.dispatcher.Dispatch(cmd.Context(), id, st)
			if err != nil {
				return fmt.Errorf("dispatch experiment %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "experiment %d %s: %d tasks enqueued\n", id, stage, n)
			return nil
		},
	}
	cmd.Flags().StringVar(&stage, "stage", string(domain.StageAnswers), "stage to dispatch: answers or observations")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			storeCfg := opts.cfg.Store
			storeCfg.AutoMigrate = false
			s, err := store.Open(cmd.Context(), storeCfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
