// Package runner executes one batch of jobs through a fresh taskq.Queue and
// turns the outcome into a persisted run report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"taskq/internal/config"
	"taskq/internal/jobs"
	"taskq/internal/storage"
	"taskq/pkg/eventbus"
	"taskq/pkg/taskq"
	logx "taskq/pkg/logx"
)

var (
	ErrBusy       = errors.New("runner: a run is already in progress")
	ErrJobsFailed = errors.New("runner: jobs failed")
	ErrNoJobs     = errors.New("runner: no jobs configured")
)

// Bus event types published around each run, in addition to the queue's
// task.* and queue.error events.
const (
	EventRunStarted  = "run.started"
	EventRunFinished = "run.finished"
)

// Report is the outcome of one run. It is stored as-is.
type Report = storage.Run

// drainTimeout bounds how long a cancelled run waits for killed jobs to settle.
const drainTimeout = 10 * time.Second

type Runner struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	mu   sync.Mutex
	qcfg config.QueueConfig
	cmds []jobs.Command
	last *Report
	live *taskq.Queue[jobs.Output]

	busy atomic.Bool
}

// New builds a runner for cfg. bus and store may be nil.
func New(cfg *config.Config, log logx.Logger, bus eventbus.Bus, store storage.Store) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{log: log.With(logx.String("comp", "runner")), bus: bus, store: store}
	r.Apply(cfg)
	return r
}

// Apply swaps the queue settings and job list used by the next run.
// A run in flight keeps what it started with.
func (r *Runner) Apply(cfg *config.Config) {
	if cfg == nil {
		return
	}
	cmds := jobs.FromConfig(cfg.Jobs)
	r.mu.Lock()
	r.qcfg = cfg.Queue
	r.cmds = cmds
	r.mu.Unlock()
}

// Last returns the most recent finished run of this process.
func (r *Runner) Last() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Live returns a snapshot of the queue of the run in flight.
func (r *Runner) Live() (taskq.Snapshot, bool) {
	r.mu.Lock()
	q := r.live
	r.mu.Unlock()
	if q == nil {
		return taskq.Snapshot{}, false
	}
	return q.Snapshot(), true
}

// Run submits every job in file order and waits for the queue to settle.
//
// The report is returned (and stored) even when err != nil. err matches
// taskq.ErrHalted when the queue halted, ErrJobsFailed when jobs failed
// without halting, or the context error when ctx ended first.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return Report{}, ErrBusy
	}
	defer r.busy.Store(false)

	r.mu.Lock()
	qcfg := r.qcfg
	cmds := r.cmds
	r.mu.Unlock()
	if len(cmds) == 0 {
		return Report{}, ErrNoJobs
	}

	id := uuid.NewString()
	log := r.log.With(logx.String("run_id", id))

	opts := []taskq.Option{
		taskq.WithContext(ctx),
		taskq.WithLogger(log),
		taskq.WithBacklogWarning(qcfg.BacklogWarn),
	}
	if r.bus != nil {
		opts = append(opts, taskq.WithBus(r.bus))
	}
	if qcfg.HistorySize != 0 {
		opts = append(opts, taskq.WithHistorySize(qcfg.HistorySize))
	}
	q, err := taskq.New[jobs.Output](taskq.Config{
		Name:             qcfg.Name,
		ConcurrencyLimit: qcfg.Concurrency,
		HaltOnFailure:    qcfg.HaltOnFailure,
	}, opts...)
	if err != nil {
		return Report{}, err
	}

	rep := Report{ID: id, Queue: qcfg.Name, Started: time.Now()}
	r.mu.Lock()
	r.live = q
	r.mu.Unlock()
	r.publish(EventRunStarted, rep)
	log.Info("run started", logx.Int("jobs", len(cmds)), logx.Int("concurrency", q.Snapshot().ConcurrencyLimit))

	tasks := make([]*taskq.Task[jobs.Output], len(cmds))
	for i, c := range cmds {
		tasks[i] = q.Submit(c.Work(log))
	}

	werr := q.Wait(ctx)
	if ctx.Err() != nil && errors.Is(werr, ctx.Err()) {
		// Work contexts are cancelled too; let the killed jobs settle so the
		// report reflects them.
		dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		_ = q.Wait(dctx)
		cancel()
	}

	rep.Finished = time.Now()
	rep.Halted = q.Paused()
	rep.Results = make([]storage.Result, len(tasks))
	failed := 0
	for i, t := range tasks {
		rep.Results[i] = result(cmds[i].Name, t)
		if rep.Results[i].Status == taskq.StatusFailed.String() {
			failed++
		}
	}

	var runErr error
	switch {
	case werr != nil:
		runErr = werr
	case failed > 0:
		runErr = fmt.Errorf("%w: %d of %d", ErrJobsFailed, failed, len(tasks))
	}
	if runErr != nil {
		rep.Error = runErr.Error()
	}

	r.persist(log, rep)

	r.mu.Lock()
	r.last = &rep
	r.live = nil
	r.mu.Unlock()
	r.publish(EventRunFinished, rep)

	took := rep.Finished.Sub(rep.Started)
	if runErr != nil {
		log.Warn("run finished with errors", logx.Int("failed", failed), logx.Bool("halted", rep.Halted), logx.Duration("took", took), logx.Err(runErr))
	} else {
		log.Info("run finished", logx.Int("jobs", len(tasks)), logx.Duration("took", took))
	}
	return rep, runErr
}

func (r *Runner) persist(log logx.Logger, rep Report) {
	if r.store == nil {
		return
	}
	// the run context may already be cancelled; the outcome is still worth keeping
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.RecordRun(ctx, rep); err != nil {
		log.Warn("record run failed", logx.Err(err))
	}
}

func (r *Runner) publish(typ string, rep Report) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: rep})
}

// result derives a job result from the task's event history. Jobs that were
// never admitted (halted queue) report "pending".
func result(job string, t *taskq.Task[jobs.Output]) storage.Result {
	res := storage.Result{TaskID: t.ID(), Job: job, Status: t.Status().String()}
	var pending, active time.Time
	for _, ev := range t.History() {
		switch ev.Status {
		case taskq.StatusPending:
			pending = ev.Time
		case taskq.StatusActive:
			active = ev.Time
			if !pending.IsZero() {
				res.QueueDelay = active.Sub(pending)
			}
		case taskq.StatusCompleted:
			res.Duration = ev.Time.Sub(active)
			res.ExitCode = ev.Result.ExitCode
		case taskq.StatusFailed:
			res.Duration = ev.Time.Sub(active)
			res.ExitCode = jobs.ExitCode(ev.Err)
			res.Error = ev.Err.Error()
		}
	}
	return res
}
