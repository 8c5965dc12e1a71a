package config

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalid = errors.New("invalid config")

// ScheduleValidator checks trigger.schedule. It is injected to keep this
// package free of the trigger implementation.
type ScheduleValidator func(schedule string) error

// Validate checks c and returns every problem found, joined, each matching
// ErrInvalid and prefixed with its dotted field path.
func Validate(c *Config, schedule ScheduleValidator) error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if c.Queue.Concurrency < 0 {
		bad("queue.concurrency: must be >= 0 (0 means default)")
	}
	if c.Queue.BacklogWarn < 0 {
		bad("queue.backlog_warn: must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none":
	case "sqlite", "sqlite3", "file":
		if strings.TrimSpace(c.Storage.Path) == "" {
			bad("storage.path: required for driver %q", c.Storage.Driver)
		}
	default:
		bad("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}

	if s := strings.TrimSpace(c.Trigger.Schedule); s != "" && schedule != nil {
		if err := schedule(s); err != nil {
			bad("trigger.schedule: %v", err)
		}
	}

	if len(c.Jobs) == 0 {
		bad("jobs: at least one job is required")
	}
	seen := make(map[string]int, len(c.Jobs))
	for i, j := range c.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			bad("jobs[%d].name: required", i)
		} else if prev, dup := seen[name]; dup {
			bad("jobs[%d].name: %q duplicates jobs[%d]", i, name, prev)
		} else {
			seen[name] = i
		}
		hasCmd := len(j.Command) > 0 && strings.TrimSpace(j.Command[0]) != ""
		hasShell := strings.TrimSpace(j.Shell) != ""
		switch {
		case hasCmd && hasShell:
			bad("jobs[%d]: set either command or shell, not both", i)
		case !hasCmd && !hasShell:
			bad("jobs[%d].command: required (or shell)", i)
		}
	}
	return errors.Join(errs...)
}
