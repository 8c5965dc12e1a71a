package taskq

import (
	"runtime/debug"
	"sync"

	logx "taskq/pkg/logx"
)

// serialLoop runs posted steps one at a time, in the order they were posted.
//
// A drain goroutine is started on demand and exits as soon as no steps are
// left, so an idle queue owns no goroutines. Steps posted while a step runs
// (including from inside it) are queued behind it; a step never overlaps
// another.
type serialLoop struct {
	log logx.Logger

	mu       sync.Mutex
	steps    []func()
	draining bool
}

func (l *serialLoop) post(step func()) {
	if step == nil {
		return
	}
	l.mu.Lock()
	l.steps = append(l.steps, step)
	if l.draining {
		l.mu.Unlock()
		return
	}
	l.draining = true
	l.mu.Unlock()

	go l.drain()
}

func (l *serialLoop) drain() {
	for {
		l.mu.Lock()
		if len(l.steps) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		step := l.steps[0]
		l.steps[0] = nil
		l.steps = l.steps[1:]
		l.mu.Unlock()

		l.run(step)
	}
}

func (l *serialLoop) run(step func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop.step panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	step()
}
