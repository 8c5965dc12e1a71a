// Package taskq is a bounded-concurrency scheduler for asynchronous units of
// work.
//
// A caller submits work one item at a time with Queue.Submit. The queue admits
// at most ConcurrencyLimit tasks at once, keeps the rest in a FIFO backlog and
// promotes them as running tasks finish. Every task moves exactly once along
//
//	pending -> active -> completed | failed
//
// and reports each step on its own notification handle (the returned *Task).
//
// Submit never emits an event itself: announcing the task (the pending
// event) and admitting it happen in a later step of the queue's serial loop,
// and every subscription replays the events already emitted. An observer
// attached right after Submit returns therefore sees the full sequence.
//
// With HaltOnFailure, the first failure pauses the queue for good: tasks that
// are already running finish normally, nothing else leaves the backlog, and
// each halting failure is delivered on Queue.Errors.
//
// Example:
//
//	q, err := taskq.New[int](taskq.Config{ConcurrencyLimit: 2})
//	if err != nil {
//		return err
//	}
//	t := q.Submit(taskq.Bind(double, 21))
//	v, err := t.Wait(ctx) // 42, nil
package taskq
