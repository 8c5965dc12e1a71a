package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// KeepRuns bounds the number of stored runs (sqlite prunes oldest).
	// 0 means 1000.
	KeepRuns int
}

// Run is the outcome of one batch.
type Run struct {
	ID       string    `json:"id"`
	Queue    string    `json:"queue,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Halted   bool      `json:"halted"`
	Error    string    `json:"error,omitempty"`
	Results  []Result  `json:"results"`
}

// Failed reports whether any job in the run failed.
func (r Run) Failed() bool {
	for _, res := range r.Results {
		if res.Status == "failed" {
			return true
		}
	}
	return false
}

// Result is the outcome of one job within a run. Status is the task status
// name ("completed", "failed", or "pending" for jobs never admitted).
type Result struct {
	TaskID     uint64        `json:"task_id"`
	Job        string        `json:"job"`
	Status     string        `json:"status"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	ExitCode   int           `json:"exit_code"`
	Error      string        `json:"error,omitempty"`
}
