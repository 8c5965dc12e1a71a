package runner

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskq/internal/config"
	"taskq/internal/storage"
	"taskq/pkg/eventbus"
	"taskq/pkg/taskq"
	logx "taskq/pkg/logx"
)

func shellJobs(cmds ...string) []config.JobConfig {
	out := make([]config.JobConfig, len(cmds))
	for i, c := range cmds {
		out[i] = config.JobConfig{Name: "job" + string(rune('0'+i)), Shell: c}
	}
	return out
}

func statuses(rep Report) string {
	s := make([]string, len(rep.Results))
	for i, r := range rep.Results {
		s[i] = r.Status
	}
	return strings.Join(s, ",")
}

func TestRunAllSucceed(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Queue: config.QueueConfig{Name: "ok", Concurrency: 2}, Jobs: shellJobs("true", "echo hi", "true")}
	r := New(cfg, logx.Nop(), nil, nil)
	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := statuses(rep); got != "completed,completed,completed" {
		t.Fatalf("statuses = %s", got)
	}
	if rep.ID == "" || rep.Halted || rep.Queue != "ok" {
		t.Fatalf("report = %+v", rep)
	}
	for i, res := range rep.Results {
		if res.TaskID != uint64(i) {
			t.Fatalf("Results[%d].TaskID = %d, want %d", i, res.TaskID, i)
		}
	}
	last, ok := r.Last()
	if !ok || last.ID != rep.ID {
		t.Fatalf("Last() = %v, %v", last.ID, ok)
	}
	if _, ok := r.Live(); ok {
		t.Fatal("Live() ok after run finished")
	}
}

func TestRunHaltsOnFailure(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Queue: config.QueueConfig{Concurrency: 1, HaltOnFailure: true},
		Jobs:  shellJobs("true", "exit 4", "true", "true"),
	}
	rep, err := New(cfg, logx.Nop(), nil, nil).Run(context.Background())
	if !errors.Is(err, taskq.ErrHalted) {
		t.Fatalf("Run() error = %v, want ErrHalted", err)
	}
	if got := statuses(rep); got != "completed,failed,pending,pending" {
		t.Fatalf("statuses = %s", got)
	}
	if !rep.Halted || rep.Results[1].ExitCode != 4 || rep.Error == "" {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRunFailuresWithoutHalt(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Queue: config.QueueConfig{Concurrency: 1}, Jobs: shellJobs("exit 1", "true", "exit 2")}
	rep, err := New(cfg, logx.Nop(), nil, nil).Run(context.Background())
	if !errors.Is(err, ErrJobsFailed) {
		t.Fatalf("Run() error = %v, want ErrJobsFailed", err)
	}
	if got := statuses(rep); got != "failed,completed,failed" {
		t.Fatalf("statuses = %s", got)
	}
	if rep.Halted {
		t.Fatal("Halted = true without halt_on_failure")
	}
}

func TestRunPersistsAndPublishes(t *testing.T) {
	t.Parallel()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "runs.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer st.Close()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64, "run.", "task.")
	defer unsub()

	cfg := &config.Config{Jobs: shellJobs("true")}
	rep, err := New(cfg, logx.Nop(), bus, st).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	runs, err := st.RecentRuns(context.Background(), 5)
	if err != nil || len(runs) != 1 || runs[0].ID != rep.ID {
		t.Fatalf("RecentRuns() = %v, %v", runs, err)
	}

	var types []string
	timeout := time.After(2 * time.Second)
	for len(types) < 5 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatalf("events = %v, want 5", types)
		}
	}
	want := "run.started,task.pending,task.active,task.completed,run.finished"
	if got := strings.Join(types, ","); got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
}

func TestApplyAffectsNextRun(t *testing.T) {
	t.Parallel()

	r := New(&config.Config{Jobs: shellJobs("true")}, logx.Nop(), nil, nil)
	r.Apply(&config.Config{Jobs: shellJobs("true", "true")})
	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rep.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(rep.Results))
	}
}

func TestRunBusyAndLive(t *testing.T) {
	t.Parallel()

	r := New(&config.Config{Jobs: shellJobs("sleep 1")}, logx.Nop(), nil, nil)
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if snap, ok := r.Live(); ok {
			if snap.ConcurrencyLimit != taskq.DefaultConcurrencyLimit {
				t.Fatalf("ConcurrencyLimit = %d", snap.ConcurrencyLimit)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Live() never reported the run")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := r.Run(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Run() error = %v, want ErrBusy", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	cfg := &config.Config{Queue: config.QueueConfig{Concurrency: 1}, Jobs: shellJobs("sleep 5", "true")}
	start := time.Now()
	rep, err := New(cfg, logx.Nop(), nil, nil).Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatal("cancelled run did not stop promptly")
	}
	if rep.Results[0].Status != "failed" {
		t.Fatalf("Results[0].Status = %s, want failed", rep.Results[0].Status)
	}
}

func TestRunNoJobs(t *testing.T) {
	t.Parallel()

	if _, err := New(&config.Config{}, logx.Nop(), nil, nil).Run(context.Background()); !errors.Is(err, ErrNoJobs) {
		t.Fatalf("Run() error = %v, want ErrNoJobs", err)
	}
}
