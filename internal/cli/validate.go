package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"taskq/internal/app"
	"taskq/internal/trigger"
	"taskq/pkg/taskq"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the job file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(flagConfig)
			if err != nil {
				return err
			}
			limit := cfg.Queue.Concurrency
			if limit == 0 {
				limit = taskq.DefaultConcurrencyLimit
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ok: %d jobs, concurrency %d, halt_on_failure %v\n", len(cfg.Jobs), limit, cfg.Queue.HaltOnFailure)
			if s := strings.TrimSpace(cfg.Trigger.Schedule); s != "" {
				spec, err := trigger.ParseSchedule(s)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "schedule: %s (%s)\n", spec.Raw, spec.Kind)
			}
			return nil
		},
	}
}
