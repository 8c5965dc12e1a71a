// Package cli implements the taskq command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagLogLevel string
)

// defaultConfig returns TASKQ_CONFIG or ./taskq.yaml.
func defaultConfig() string {
	if s := os.Getenv("TASKQ_CONFIG"); s != "" {
		return s
	}
	return "./taskq.yaml"
}

// NewRootCmd creates the root cobra command for the taskq CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "taskq",
		Short:         "taskq runs batches of commands with bounded concurrency",
		Long:          "taskq runs the jobs of a job file through a bounded FIFO queue, once or on a schedule.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", defaultConfig(), "job file (JSON or YAML; or TASKQ_CONFIG env)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(),
		newWatchCmd(),
		newHistoryCmd(),
		newValidateCmd(),
	)
	return root
}
