package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "taskq/pkg/logx"
)

func sampleRun(id string, at time.Time) Run {
	return Run{
		ID:       id,
		Queue:    "nightly",
		Started:  at,
		Finished: at.Add(2 * time.Second),
		Halted:   true,
		Error:    "exit status 1",
		Results: []Result{
			{TaskID: 0, Job: "lint", Status: "completed", QueueDelay: time.Millisecond, Duration: time.Second},
			{TaskID: 1, Job: "test", Status: "failed", ExitCode: 1, Error: "exit status 1"},
			{TaskID: 2, Job: "deploy", Status: "pending"},
		},
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("Open(redis) error = nil")
	}
}

func TestDrivers(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "file"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "sub", "runs.db")
			st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer st.Close()

			base := time.Unix(1_700_000_000, 0)
			for i, id := range []string{"a", "b", "c"} {
				if err := st.RecordRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
					t.Fatalf("RecordRun(%s) error = %v", id, err)
				}
			}

			runs, err := st.RecentRuns(ctx, 2)
			if err != nil {
				t.Fatalf("RecentRuns() error = %v", err)
			}
			if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
				t.Fatalf("RecentRuns() ids = %v, want [c b]", ids(runs))
			}
			r := runs[0]
			if !r.Halted || r.Error != "exit status 1" || r.Queue != "nightly" {
				t.Fatalf("run = %+v", r)
			}
			if !r.Started.Equal(base.Add(2 * time.Minute)) {
				t.Fatalf("Started = %v", r.Started)
			}
			if len(r.Results) != 3 {
				t.Fatalf("len(Results) = %d, want 3", len(r.Results))
			}
			if got := r.Results[1]; got.Job != "test" || got.Status != "failed" || got.ExitCode != 1 {
				t.Fatalf("Results[1] = %+v", got)
			}
			if r.Results[0].Duration != time.Second {
				t.Fatalf("Duration = %v, want 1s", r.Results[0].Duration)
			}
			if !r.Failed() {
				t.Fatal("Failed() = false, want true")
			}
		})
	}
}

func TestFileSkipsCorruptLines(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer st.Close()

	if err := st.RecordRun(ctx, sampleRun("a", time.Now())); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("{\"id\":\"torn\n")
	_ = f.Close()
	if err := st.RecordRun(ctx, sampleRun("b", time.Now())); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	runs, err := st.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "b" || runs[1].ID != "a" {
		t.Fatalf("RecentRuns() ids = %v, want [b a]", ids(runs))
	}
}

func TestSQLitePrunes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "runs.db"), KeepRuns: 3}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer st.Close()
	st.(*sqliteStore).pruneEvery = 1

	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 5; i++ {
		if err := st.RecordRun(ctx, sampleRun(string(rune('a'+i)), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("RecordRun() error = %v", err)
		}
	}
	runs, err := st.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(runs) != 3 || runs[2].ID != "c" {
		t.Fatalf("RecentRuns() ids = %v, want [e d c]", ids(runs))
	}
}

func ids(runs []Run) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}
	return out
}
