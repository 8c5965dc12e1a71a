package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"taskq/internal/app"
	"taskq/internal/storage"
	logx "taskq/pkg/logx"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(flagConfig)
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cfg.Storage, logx.Nop())
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("history: storage is disabled (set storage.driver)")
			}
			defer store.Close()

			runs, err := store.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tTOOK\tJOBS\tFAILED\tSTATE")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					r.ID, humanize.Time(r.Started), round(r.Finished.Sub(r.Started)),
					len(r.Results), countStatus(r, "failed"), runState(r))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}

func countStatus(r storage.Run, status string) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

func runState(r storage.Run) string {
	switch {
	case r.Halted:
		return "halted"
	case r.Error != "":
		return "failed"
	default:
		return "ok"
	}
}
