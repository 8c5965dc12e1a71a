package taskq

import (
	"context"
	"runtime/debug"
	"sync"
	"time"
)

// Work is an opaque unit of work. Arguments are bound by closure capture;
// see Bind for the one-argument case.
type Work[T any] func(ctx context.Context) (T, error)

// Bind adapts a one-argument function into Work by capturing arg.
func Bind[A, T any](fn func(context.Context, A) (T, error), arg A) Work[T] {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context) (T, error) { return fn(ctx, arg) }
}

// Task is one submitted unit of work and its lifecycle state.
// It is also the notification handle returned by Queue.Submit.
type Task[T any] struct {
	id        uint64
	work      Work[T]
	submitted time.Time

	mu       sync.Mutex
	status   Status
	result   T
	err      error
	started  time.Time
	finished time.Time
	history  []Event[T]
	subs     []chan Event[T]
	done     chan struct{}
}

func newTask[T any](id uint64, work Work[T]) *Task[T] {
	return &Task[T]{
		id:        id,
		work:      work,
		submitted: time.Now(),
		status:    StatusPending,
		history:   make([]Event[T], 0, maxTaskEvents),
		done:      make(chan struct{}),
	}
}

func (t *Task[T]) ID() uint64 { return t.id }

func (t *Task[T]) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Done is closed once the task reaches Completed or Failed.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Events returns a new subscription to the task's notifications.
//
// Events emitted before the call are replayed first, so no subscriber misses
// one. The channel is closed after the terminal event. Sends never block the
// task: the buffer holds every event a task can emit.
func (t *Task[T]) Events() <-chan Event[T] {
	ch := make(chan Event[T], maxTaskEvents)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.history {
		ch <- e
	}
	if t.status.Terminal() {
		close(ch)
		return ch
	}
	t.subs = append(t.subs, ch)
	return ch
}

// History returns a copy of the events emitted so far.
func (t *Task[T]) History() []Event[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event[T](nil), t.history...)
}

// Wait blocks until the task is terminal and returns its result or failure.
// If ctx ends first, Wait returns ctx.Err() and the task keeps running.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// announce emits the pending event. It reports false if the task already
// left Pending or was announced before.
func (t *Task[T]) announce() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending || len(t.history) > 0 {
		return false
	}
	t.emitLocked(Event[T]{Status: StatusPending})
	return true
}

// start runs the task: Pending -> Active -> Completed|Failed.
// onActive (optional) runs after the active event is emitted and before the
// work is invoked. The returned error is the task's failure.
func (t *Task[T]) start(ctx context.Context, onActive func()) error {
	t.mu.Lock()
	if t.status != StatusPending {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.status = StatusActive
	t.started = time.Now()
	t.emitLocked(Event[T]{Status: StatusActive, Time: t.started})
	t.mu.Unlock()

	if onActive != nil {
		onActive()
	}

	res, err := t.invoke(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = time.Now()
	if err != nil {
		t.status = StatusFailed
		t.err = err
		t.emitLocked(Event[T]{Status: StatusFailed, Time: t.finished, Err: err})
		return err
	}
	t.status = StatusCompleted
	t.result = res
	t.emitLocked(Event[T]{Status: StatusCompleted, Time: t.finished, Result: res})
	return nil
}

func (t *Task[T]) invoke(ctx context.Context) (res T, err error) {
	if t.work == nil {
		return res, ErrNilWork
	}
	// Guard against panics: one bad task must not take down the queue.
	defer func() {
		if r := recover(); r != nil {
			var zero T
			res = zero
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return t.work(ctx)
}

func (t *Task[T]) emitLocked(e Event[T]) {
	e.TaskID = t.id
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	t.history = append(t.history, e)
	for _, ch := range t.subs {
		ch <- e
	}
	if e.Status.Terminal() {
		for _, ch := range t.subs {
			close(ch)
		}
		t.subs = nil
		close(t.done)
	}
}

// timing returns the queue delay and run duration once the task is terminal.
func (t *Task[T]) timing() (queueDelay, dur time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started.IsZero() {
		queueDelay = t.started.Sub(t.submitted)
	}
	if !t.finished.IsZero() {
		dur = t.finished.Sub(t.started)
	}
	return queueDelay, dur
}
