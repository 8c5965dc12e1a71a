package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
queue:
  name: nightly
  concurrency: 2
  halt_on_failure: true
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./runs.db
trigger:
  schedule: "@every 5m"
jobs:
  - name: lint
    command: ["go", "vet", "./..."]
  - name: test
    shell: go test ./...
    env:
      CGO_ENABLED: "0"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	cfg, err := NewManager(writeFile(t, "taskq.yaml", sampleYAML)).Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Queue.Name != "nightly" || cfg.Queue.Concurrency != 2 || !cfg.Queue.HaltOnFailure {
		t.Fatalf("queue = %+v", cfg.Queue)
	}
	if len(cfg.Jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(cfg.Jobs))
	}
	if got := cfg.Jobs[1].Env["CGO_ENABLED"]; got != "0" {
		t.Fatalf("env = %q, want 0", got)
	}
	if err := Validate(cfg, nil); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file string
		body string
	}{
		{"json", "c.json", `{"queue":{"concurency":2},"jobs":[]}`},
		{"yaml", "c.yml", "queue:\n  concurency: 2\n"},
		{"trailing", "c.json", `{"jobs":[]} {"jobs":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(writeFile(t, tt.file, tt.body)).Parse(); err == nil {
				t.Fatal("Parse() error = nil, want error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ok := JobConfig{Name: "a", Command: []string{"true"}}
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"negative concurrency", Config{Queue: QueueConfig{Concurrency: -1}, Jobs: []JobConfig{ok}}, "queue.concurrency"},
		{"no jobs", Config{}, "jobs:"},
		{"duplicate", Config{Jobs: []JobConfig{ok, ok}}, "duplicates"},
		{"both", Config{Jobs: []JobConfig{{Name: "x", Command: []string{"true"}, Shell: "true"}}}, "not both"},
		{"neither", Config{Jobs: []JobConfig{{Name: "x"}}}, "jobs[0].command"},
		{"driver", Config{Storage: StorageConfig{Driver: "redis"}, Jobs: []JobConfig{ok}}, "storage.driver"},
		{"path", Config{Storage: StorageConfig{Driver: "file"}, Jobs: []JobConfig{ok}}, "storage.path"},
		{"busy timeout", Config{Storage: StorageConfig{BusyTimeout: "soon"}, Jobs: []JobConfig{ok}}, "storage.busy_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg, nil)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Trigger: TriggerConfig{Schedule: "nope"},
		Jobs:    []JobConfig{{Name: "a", Shell: "true"}},
	}
	err := Validate(&cfg, func(string) error { return errors.New("bad schedule") })
	if err == nil || !strings.Contains(err.Error(), "trigger.schedule") {
		t.Fatalf("Validate() = %v, want trigger.schedule error", err)
	}
}

func TestChangedSections(t *testing.T) {
	t.Parallel()

	a := &Config{Jobs: []JobConfig{{Name: "a", Shell: "true"}}}
	b := &Config{Queue: QueueConfig{Concurrency: 3}, Jobs: []JobConfig{{Name: "a", Shell: "false"}}}
	got := strings.Join(ChangedSections(a, b), ",")
	if got != "queue,jobs" {
		t.Fatalf("ChangedSections() = %q, want queue,jobs", got)
	}
	if len(ChangedSections(a, a)) != 0 {
		t.Fatal("ChangedSections(a, a) not empty")
	}
}

func TestLoadRunsValidator(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "taskq.yaml", sampleYAML))
	m.SetValidator(func(context.Context, *Config) error { return errors.New("rejected") })
	if _, err := m.Load(context.Background()); err == nil {
		t.Fatal("Load() error = nil, want rejection")
	}
	if m.Get() != nil {
		t.Fatal("Get() != nil after rejected load")
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "taskq.yaml", sampleYAML)
	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	updated := strings.Replace(sampleYAML, "concurrency: 2", "concurrency: 4", 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.Queue.Concurrency != 4 {
				t.Fatalf("concurrency = %d, want 4", cfg.Queue.Concurrency)
			}
			if m.Get().Queue.Concurrency != 4 {
				t.Fatal("Get() not updated")
			}
			return
		case <-tick.C:
			// rewrite until the watcher is up and sees it
			if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
