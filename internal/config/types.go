package config

// Config is a taskq job file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Queue   QueueConfig   `json:"queue"`
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage,omitempty"`
	Trigger TriggerConfig `json:"trigger,omitempty"`
	Status  StatusConfig  `json:"status,omitempty"`
	Jobs    []JobConfig   `json:"jobs"`
}

// QueueConfig maps onto taskq.Config.
//
// Defaults (when fields are omitted/zero):
//   - concurrency: 5
//   - halt_on_failure: false
//   - backlog_warn: 0 (disabled)
//   - history_size: 200
type QueueConfig struct {
	Name          string `json:"name,omitempty"`
	Concurrency   int    `json:"concurrency,omitempty"`
	HaltOnFailure bool   `json:"halt_on_failure,omitempty"`
	BacklogWarn   int    `json:"backlog_warn,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls run-history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskq.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// TriggerConfig is used by `taskq watch`. Schedule accepts a cron expression,
// "@every 5m", a Go duration or HH:MM.
type TriggerConfig struct {
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
	// RunOnStart fires one batch immediately when watch starts.
	RunOnStart bool `json:"run_on_start,omitempty"`
}

// StatusConfig controls the optional HTTP status API (watch mode).
// Prefer binding to localhost.
type StatusConfig struct {
	Addr string `json:"addr,omitempty"`
	// Pprof mounts net/http/pprof under /debug on the status listener.
	Pprof bool `json:"pprof,omitempty"`
}

// JobConfig describes one command. Exactly one of Command (argv) or Shell
// must be set.
type JobConfig struct {
	Name    string            `json:"name"`
	Command []string          `json:"command,omitempty"`
	Shell   string            `json:"shell,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}
