package main

import (
	"github.com/spf13/cobra"

	"github.com/ahrav/go-evalrun/internal/config"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "evalrun",
		Short:         "Evaluation run scheduler",
		Long:          `evalrun dispatches the answer and metric tasks of experiments, executes them with a pool of workers and repairs partially failed runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			setupLogging(cfg.Observability, cmd.ErrOrStderr())
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")

	cmd.AddCommand(
		newRunnerCmd(opts),
		newRunCmd(opts),
		newDispatchCmd(opts),
		newRetryCmd(opts),
		newMigrateCmd(opts),
		newTemporalWorkerCmd(opts),
	)
	return cmd
}
