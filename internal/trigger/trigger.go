package trigger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "taskq/pkg/logx"
)

// FireFunc runs one batch. It receives the context passed to Start.
type FireFunc func(ctx context.Context)

// Trigger calls fire on its schedule.
type Trigger struct {
	log  logx.Logger
	fire FireFunc

	mu    sync.Mutex
	spec  Spec
	loc   *time.Location
	c     *cron.Cron
	entry cron.EntryID
	ctx   context.Context
	// epoch changes on every Start and Stop.
	epoch uint64
}

// New parses schedule and resolves timezone (empty means Local).
func New(schedule, timezone string, fire FireFunc, log logx.Logger) (*Trigger, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Trigger{log: log.With(logx.String("comp", "trigger")), fire: fire}
	if err := t.set(schedule, timezone); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trigger) set(schedule, timezone string) error {
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return err
	}
	t.spec = spec
	t.loc = loc
	return nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// Start begins firing. fire receives ctx; cancelling ctx does not stop the
// trigger, Stop does.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return nil
	}
	t.ctx = ctx
	t.epoch++
	return t.startLocked()
}

func (t *Trigger) startLocked() error {
	sched, err := t.spec.Schedule()
	if err != nil {
		return err
	}
	cl := cronLogger{log: t.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(t.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx := t.ctx
	t.entry = c.Schedule(sched, cron.FuncJob(func() { t.fire(ctx) }))
	t.c = c
	c.Start()
	t.log.Info("trigger started",
		logx.String("schedule", t.spec.Raw),
		logx.String("kind", t.spec.Kind.String()),
		logx.String("tz", t.loc.String()),
		logx.Time("next", t.nextLocked()),
	)
	return nil
}

// Reschedule swaps the schedule. A running trigger is restarted once any
// batch in flight has finished; the lock is not held during that wait.
func (t *Trigger) Reschedule(schedule, timezone string) error {
	t.mu.Lock()
	prevSpec, prevLoc := t.spec, t.loc
	if err := t.set(schedule, timezone); err != nil {
		t.mu.Unlock()
		return err
	}
	c := t.c
	if c == nil || (t.spec == prevSpec && t.loc.String() == prevLoc.String()) {
		t.mu.Unlock()
		return nil
	}
	t.c = nil
	t.epoch++
	epoch := t.epoch
	t.mu.Unlock()

	<-c.Stop().Done()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.epoch != epoch || t.c != nil {
		// Stopped or started again while waiting.
		return nil
	}
	return t.startLocked()
}

// Stop stops firing and waits for a running batch or ctx.
func (t *Trigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.epoch++
	t.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next is the next firing time, or zero when stopped.
func (t *Trigger) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextLocked()
}

func (t *Trigger) nextLocked() time.Time {
	if t.c == nil {
		return time.Time{}
	}
	return t.c.Entry(t.entry).Next
}

// cronLogger adapts logx to cron.Logger. cron's Info lines are chatty
// (schedule, wake, run) so they go to debug.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
