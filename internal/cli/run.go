package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskq/internal/app"
	"taskq/internal/config"
	"taskq/internal/runner"
	"taskq/pkg/eventbus"
	logx "taskq/pkg/logx"
)

// errRunFailed makes the process exit non-zero after the summary is printed.
var errRunFailed = errors.New("run failed")

func newRunCmd() *cobra.Command {
	var (
		concurrency int
		halt        bool
		quiet       bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every job once and exit",
		Long:  "Run submits every job in file order, waits until the queue settles and prints a summary. It exits 1 if any job failed or the queue halted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(flagConfig)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("concurrency") {
				if concurrency < 0 {
					return fmt.Errorf("--concurrency must be >= 0")
				}
				cfg.Queue.Concurrency = concurrency
			}
			if cmd.Flags().Changed("halt-on-failure") {
				cfg.Queue.HaltOnFailure = halt
			}

			logs, log := newLogging(cfg)
			defer logs.Close()

			store, err := app.OpenStore(cfg.Storage, log)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			bus := eventbus.New()
			out := cmd.OutOrStdout()
			stopProgress := func() {}
			if !quiet {
				stopProgress = printProgress(out, bus, cfg.Jobs)
			}

			rep, err := runner.New(cfg, log, bus, store).Run(ctx)
			stopProgress()
			if errors.Is(err, runner.ErrNoJobs) {
				return err
			}
			printReport(out, rep)
			if err != nil {
				return fmt.Errorf("%w: %w", errRunFailed, err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override queue.concurrency (0 means default)")
	cmd.Flags().BoolVar(&halt, "halt-on-failure", false, "override queue.halt_on_failure")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "no per-job progress lines")
	return cmd
}

func newLogging(cfg *config.Config) (*logx.Service, logx.Logger) {
	lc := app.LoggingConfig(cfg.Logging)
	if flagLogLevel != "" {
		lc.Level = flagLogLevel
	}
	return logx.New(lc)
}

func printReport(w io.Writer, rep runner.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tJOB\tSTATUS\tWAITED\tTOOK\tEXIT\tERROR")
	for _, r := range rep.Results {
		exit := "-"
		if r.Status == "completed" || r.Status == "failed" {
			exit = fmt.Sprint(r.ExitCode)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.TaskID, r.Job, r.Status, round(r.QueueDelay), round(r.Duration), exit, r.Error)
	}
	_ = tw.Flush()

	state := "ok"
	switch {
	case rep.Halted:
		state = "halted"
	case rep.Error != "":
		state = "failed"
	}
	fmt.Fprintf(w, "\nrun %s %s in %s\n", rep.ID, state, round(rep.Finished.Sub(rep.Started)))
}

func round(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(10 * time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(time.Millisecond)
	default:
		return d.Round(time.Microsecond)
	}
}

