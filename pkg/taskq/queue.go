package taskq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"taskq/pkg/eventbus"
	logx "taskq/pkg/logx"
)

// Queue admits submitted tasks in FIFO order, never running more than its
// concurrency limit at once.
type Queue[T any] struct {
	name        string
	limit       int
	halt        bool
	ctx         context.Context
	log         logx.Logger
	bus         eventbus.Bus
	historySize int
	backlogWarn int
	warnBacklog *logx.Throttle

	loop serialLoop

	submitMu  sync.Mutex
	nextID    uint64
	submitted atomic.Uint64

	// Everything below is mutated only by loop steps. mu is held for the
	// duration of each step so readers on other goroutines (Snapshot, Err,
	// Errors) see a consistent view.
	mu        sync.Mutex
	backlog   []*Task[T]
	running   map[uint64]*Task[T]
	paused    bool
	admitted  uint64
	completed uint64
	failed    uint64
	history   []HistoryItem
	waiters   []chan struct{}
	haltErrs  []error
	errSubs   []chan error
	halted    chan struct{}
}

// New creates a queue. A negative cfg.ConcurrencyLimit is rejected.
func New[T any](cfg Config, opts ...Option) (*Queue[T], error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	o := options{ctx: context.Background(), historySize: defaultHistorySize}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	log := o.log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "taskq"))
	if cfg.Name != "" {
		log = log.With(logx.String("queue", cfg.Name))
	}

	q := &Queue[T]{
		name:        cfg.Name,
		limit:       cfg.ConcurrencyLimit,
		halt:        cfg.HaltOnFailure,
		ctx:         o.ctx,
		log:         log,
		bus:         o.bus,
		historySize: o.historySize,
		backlogWarn: o.backlogWarn,
		running:     make(map[uint64]*Task[T], cfg.ConcurrencyLimit),
		halted:      make(chan struct{}),
	}
	if q.backlogWarn > 0 {
		q.warnBacklog = logx.NewThrottle(5 * time.Second)
	}
	q.loop.log = log
	return q, nil
}

// Submit registers work and returns its task immediately.
//
// Nothing is emitted and nothing is admitted before Submit returns: the
// pending event and the dispatch pass run in a later loop step. Tasks are
// announced and admitted in Submit order.
func (q *Queue[T]) Submit(work Work[T]) *Task[T] {
	q.submitMu.Lock()
	t := newTask(q.nextID, work)
	q.nextID++
	// Posting under submitMu keeps loop order equal to id order.
	q.loop.post(func() { q.announce(t) })
	q.submitMu.Unlock()

	q.submitted.Add(1)
	return t
}

// Wait blocks until the queue is idle: nothing is running and the backlog is
// empty, or the queue is halted. Tasks submitted while Wait is blocked extend
// the wait.
//
// It returns nil when drained, an error matching ErrHalted (and wrapping the
// first halting failure) when halted, or ctx.Err().
func (q *Queue[T]) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	q.loop.post(func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.idleLocked() {
			close(ch)
			return
		}
		q.waiters = append(q.waiters, ch)
	})

	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := q.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrHalted, err)
	}
	return nil
}

// Paused reports whether a halting failure stopped admission.
func (q *Queue[T]) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Halted is closed on the first halting failure.
func (q *Queue[T]) Halted() <-chan struct{} { return q.halted }

// Err returns the first halting failure, if any.
func (q *Queue[T]) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.haltErrs) == 0 {
		return nil
	}
	return q.haltErrs[0]
}

// Errors returns a subscription to queue-level error notifications: one value
// per halting failure, replayed if they happened before the call. The
// channel is never closed.
func (q *Queue[T]) Errors() <-chan error {
	q.mu.Lock()
	defer q.mu.Unlock()
	// At most limit tasks can fail once the queue pauses (no admissions
	// after that), so this buffer never fills.
	ch := make(chan error, q.limit)
	for _, err := range q.haltErrs {
		ch <- err
	}
	q.errSubs = append(q.errSubs, ch)
	return ch
}

func (q *Queue[T]) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{
		Name:             q.name,
		ConcurrencyLimit: q.limit,
		HaltOnFailure:    q.halt,
		Paused:           q.paused,
		Backlog:          len(q.backlog),
		Running:          len(q.running),
		Submitted:        q.submitted.Load(),
		Admitted:         q.admitted,
		Completed:        q.completed,
		Failed:           q.failed,
		HaltErrors:       len(q.haltErrs),
		History:          append([]HistoryItem(nil), q.history...),
	}
}

// ---- loop steps ----

func (q *Queue[T]) announce(t *Task[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !t.announce() {
		q.log.Warn("task.announce skipped", logx.Uint64("id", t.id), logx.String("status", t.Status().String()))
		return
	}
	q.publish(EventTaskPending, TaskEvent{Queue: q.name, ID: t.id, Status: StatusPending})
	q.backlog = append(q.backlog, t)
	q.checkBacklogLocked()

	q.dispatchLocked()
	q.notifyWaitersLocked()
}

// dispatchLocked admits backlog heads while capacity is free and the queue is
// not paused. It is re-evaluated in full on every call.
func (q *Queue[T]) dispatchLocked() {
	for !q.paused && len(q.running) < q.limit && len(q.backlog) > 0 {
		t := q.backlog[0]
		q.backlog[0] = nil
		q.backlog = q.backlog[1:]

		if _, dup := q.running[t.id]; dup {
			q.log.Error("task.dispatch duplicate", logx.Uint64("id", t.id))
			continue
		}
		q.running[t.id] = t
		q.admitted++
		go q.execute(t)
	}
	if len(q.backlog) == 0 {
		// Release the backing array once drained.
		q.backlog = nil
	}
}

func (q *Queue[T]) execute(t *Task[T]) {
	ctx := withTaskID(q.ctx, t.id)
	err := t.start(ctx, func() {
		delay, _ := t.timing()
		q.log.Debug("task.active", logx.Uint64("id", t.id), logx.Duration("queue_delay", delay))
		q.publish(EventTaskActive, TaskEvent{Queue: q.name, ID: t.id, Status: StatusActive, QueueDelay: delay})
	})
	q.loop.post(func() { q.settle(t, err) })
}

func (q *Queue[T]) settle(t *Task[T], err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.running, t.id)
	delay, dur := t.timing()
	item := HistoryItem{ID: t.id, Status: StatusCompleted, Submitted: t.submitted, QueueDelay: delay, Duration: dur}
	if err != nil {
		item.Status = StatusFailed
		item.Error = err.Error()
	}
	q.recordLocked(item)

	if err == nil {
		q.completed++
		if dur >= 750*time.Millisecond {
			q.log.Info("task.completed", logx.Uint64("id", t.id), logx.Duration("queue_delay", delay), logx.Duration("dur", dur))
		} else {
			q.log.Debug("task.completed", logx.Uint64("id", t.id), logx.Duration("queue_delay", delay), logx.Duration("dur", dur))
		}
		q.publish(EventTaskCompleted, TaskEvent{Queue: q.name, ID: t.id, Status: StatusCompleted, QueueDelay: delay, Duration: dur})
		q.dispatchLocked()
		q.notifyWaitersLocked()
		return
	}

	q.failed++
	q.log.Warn("task.failed", logx.Uint64("id", t.id), logx.Err(err), logx.Duration("queue_delay", delay), logx.Duration("dur", dur))
	q.publish(EventTaskFailed, TaskEvent{Queue: q.name, ID: t.id, Status: StatusFailed, QueueDelay: delay, Duration: dur, Error: item.Error})

	if q.halt {
		q.haltLocked(t, err)
	} else {
		q.dispatchLocked()
	}
	q.notifyWaitersLocked()
}

// haltLocked pauses admission and emits one queue-level error per halting
// failure. paused is idempotent; the halted channel closes only once.
func (q *Queue[T]) haltLocked(t *Task[T], err error) {
	first := !q.paused
	q.paused = true
	q.haltErrs = append(q.haltErrs, err)
	for _, ch := range q.errSubs {
		select {
		case ch <- err:
		default:
			q.log.Warn("queue.error dropped (subscriber full)", logx.Uint64("id", t.id))
		}
	}
	if first {
		close(q.halted)
		q.log.Error("queue halted", logx.Uint64("id", t.id), logx.Err(err), logx.Int("backlog", len(q.backlog)), logx.Int("running", len(q.running)))
	}
	q.publish(EventQueueError, TaskEvent{Queue: q.name, ID: t.id, Status: StatusFailed, Error: err.Error()})
}

func (q *Queue[T]) idleLocked() bool {
	return len(q.running) == 0 && (len(q.backlog) == 0 || q.paused)
}

func (q *Queue[T]) notifyWaitersLocked() {
	if len(q.waiters) == 0 || !q.idleLocked() {
		return
	}
	for _, ch := range q.waiters {
		close(ch)
	}
	q.waiters = nil
}

func (q *Queue[T]) recordLocked(item HistoryItem) {
	if q.historySize < 0 {
		return
	}
	q.history = append(q.history, item)
	if len(q.history) > q.historySize {
		q.history = q.history[len(q.history)-q.historySize:]
	}
}

func (q *Queue[T]) checkBacklogLocked() {
	if q.backlogWarn <= 0 || len(q.backlog) <= q.backlogWarn {
		return
	}
	if q.warnBacklog.Allow() {
		q.log.Warn("queue backlog high", logx.Int("backlog", len(q.backlog)), logx.Int("threshold", q.backlogWarn), logx.Int("running", len(q.running)))
	}
}

func (q *Queue[T]) publish(typ string, ev TaskEvent) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

type taskIDKey struct{}

func withTaskID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// TaskIDFromContext returns the id of the task whose work received ctx.
func TaskIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(taskIDKey{}).(uint64)
	return id, ok
}
