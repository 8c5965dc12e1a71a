package taskq

import (
	"context"
	"fmt"

	"taskq/pkg/eventbus"
	logx "taskq/pkg/logx"
)

const (
	DefaultConcurrencyLimit = 5
	defaultHistorySize      = 200
)

// Config is fixed for the life of a Queue.
type Config struct {
	// Name labels log lines and bus events. Optional.
	Name string

	// ConcurrencyLimit is the maximum number of simultaneously active tasks.
	// 0 means DefaultConcurrencyLimit; negative values are rejected.
	ConcurrencyLimit int

	// HaltOnFailure pauses admission permanently after the first failure.
	HaltOnFailure bool
}

func (c Config) withDefaults() (Config, error) {
	if c.ConcurrencyLimit < 0 {
		return c, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, c.ConcurrencyLimit)
	}
	if c.ConcurrencyLimit == 0 {
		c.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	return c, nil
}

type Option func(*options)

type options struct {
	ctx         context.Context
	log         logx.Logger
	bus         eventbus.Bus
	historySize int
	backlogWarn int
}

// WithContext sets the context handed to every task's work.
// The queue itself never cancels it.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithBus publishes lifecycle events (task.*, queue.error) on bus.
func WithBus(bus eventbus.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithHistorySize bounds the diagnostics history of finished tasks.
// Negative disables history.
func WithHistorySize(n int) Option {
	return func(o *options) { o.historySize = n }
}

// WithBacklogWarning logs a throttled warning whenever the backlog grows past n.
// 0 disables the warning.
func WithBacklogWarning(n int) Option {
	return func(o *options) { o.backlogWarn = n }
}
