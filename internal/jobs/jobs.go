// Package jobs turns job-file command definitions into taskq work.
package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"taskq/internal/config"
	"taskq/pkg/taskq"
	logx "taskq/pkg/logx"
)

// DefaultOutputLimit caps captured stdout and stderr per stream.
const DefaultOutputLimit = 64 << 10

const (
	// pipeWaitDelay bounds how long Run keeps reading output after the
	// process exits or is killed.
	pipeWaitDelay = 2 * time.Second
	maxTailLen    = 200
)

// Command is one runnable job. Exactly one of Argv or Shell is set.
type Command struct {
	Name  string
	Argv  []string
	Shell string
	Dir   string
	Env   map[string]string

	// OutputLimit caps each captured stream; 0 means DefaultOutputLimit.
	OutputLimit int
}

// Output is the result of a finished process.
type Output struct {
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	Job    string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if s := lastLine(e.Stderr); s != "" {
		return fmt.Sprintf("job %s: exit status %d: %s", e.Job, e.Code, s)
	}
	return fmt.Sprintf("job %s: exit status %d", e.Job, e.Code)
}

// ExitCode extracts the process exit code from a job error, or -1.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return -1
}

// FromConfig converts validated job definitions, preserving file order.
func FromConfig(jobs []config.JobConfig) []Command {
	out := make([]Command, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, Command{
			Name:  strings.TrimSpace(j.Name),
			Argv:  append([]string(nil), j.Command...),
			Shell: j.Shell,
			Dir:   j.Dir,
			Env:   j.Env,
		})
	}
	return out
}

func (c Command) argv() []string {
	if strings.TrimSpace(c.Shell) != "" {
		return []string{"/bin/sh", "-c", c.Shell}
	}
	return c.Argv
}

// Work returns the command as opaque work. Cancelling ctx kills the process.
func (c Command) Work(log logx.Logger) taskq.Work[Output] {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("job", c.Name))
	return func(ctx context.Context) (Output, error) {
		return c.run(ctx, log)
	}
}

func (c Command) run(ctx context.Context, log logx.Logger) (Output, error) {
	argv := c.argv()
	if len(argv) == 0 {
		return Output{ExitCode: -1}, fmt.Errorf("job %s: empty command", c.Name)
	}
	limit := c.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	killGroup(cmd)
	// Orphans holding stdout/stderr must not keep Run copying.
	cmd.WaitDelay = pipeWaitDelay
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(c.Env)...)
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if id, ok := taskq.TaskIDFromContext(ctx); ok {
		log = log.With(logx.Uint64("task_id", id))
	}
	log.Debug("job starting", logx.String("argv", strings.Join(argv, " ")))

	start := time.Now()
	err := cmd.Run()
	out := Output{
		ExitCode:  0,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.dropped > 0 || stderr.dropped > 0,
		Duration:  time.Since(start),
	}
	if out.Truncated {
		log.Debug("job output truncated",
			logx.String("stdout_dropped", humanize.Bytes(uint64(stdout.dropped))),
			logx.String("stderr_dropped", humanize.Bytes(uint64(stderr.dropped))),
		)
	}

	if err == nil {
		log.Debug("job finished", logx.Duration("took", out.Duration), logx.String("stdout", humanize.Bytes(uint64(stdout.total))))
		return out, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		out.ExitCode = -1
		log.Debug("job cancelled", logx.Duration("took", out.Duration), logx.Err(cerr))
		return out, fmt.Errorf("job %s: %w", c.Name, cerr)
	}
	var xe *exec.ExitError
	if errors.As(err, &xe) {
		out.ExitCode = xe.ExitCode()
		return out, &ExitError{Job: c.Name, Code: out.ExitCode, Stderr: out.Stderr}
	}
	out.ExitCode = -1
	return out, fmt.Errorf("job %s: %w", c.Name, err)
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > maxTailLen {
		cut := maxTailLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

// cappedBuffer keeps the first limit bytes and counts the rest.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	total   int
	dropped int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.total += len(p)
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.dropped += len(p) - room
		} else {
			b.buf.Write(p)
		}
	} else {
		b.dropped += len(p)
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
