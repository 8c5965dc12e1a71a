package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "taskq/pkg/logx"
)

const (
	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second

	reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
)

var errWatcherClosed = errors.New("watcher closed")

// Watch reloads the file on change until ctx is done. It always returns nil.
//
// The parent directory is watched rather than the file, so editors that save
// by rename keep working. A watcher that fails is rebuilt after a jittered,
// doubling delay.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	log := m.log.With(logx.String("dir", dir))

	kick := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.debounceLoop(ctx, kick)
	}()
	defer func() { <-done }()

	retry := watchRetryMin
	for {
		err := m.watchOnce(ctx, dir, kick, func() { retry = watchRetryMin })
		if ctx.Err() != nil {
			return nil
		}

		wait := retry + rand.N(retry/2+1)
		retry = min(2*retry, watchRetryMax)
		log.Warn("config watcher failed; retrying", logx.Err(err), logx.Duration("backoff", wait))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// watchOnce runs one fsnotify watcher until it breaks or ctx ends. ready is
// called once the directory is being watched.
func (m *Manager) watchOnce(ctx context.Context, dir string, kick chan<- struct{}, ready func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	ready()
	m.log.Debug("config watcher started", logx.String("file", m.path))

	name := filepath.Base(m.path)
	poke := func() {
		select {
		case kick <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if ev.Op&reloadOps != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				poke()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errWatcherClosed
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				poke()
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// debounceLoop reloads once kicks have been quiet for m.debounce.
func (m *Manager) debounceLoop(ctx context.Context, kick <-chan struct{}) {
	t := time.NewTimer(m.debounce)
	t.Stop()
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-kick:
			t.Reset(m.debounce)
		case <-t.C:
			m.reload(ctx)
		}
	}
}
