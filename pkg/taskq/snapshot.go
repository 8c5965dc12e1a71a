package taskq

import "time"

// HistoryItem is a compact record of a finished task kept for diagnostics.
// The queue does not retain the Task itself.
type HistoryItem struct {
	ID         uint64        `json:"id"`
	Status     Status        `json:"status"`
	Submitted  time.Time     `json:"submitted"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is the payload of task.* and queue.error bus events.
type TaskEvent struct {
	Queue      string        `json:"queue"`
	ID         uint64        `json:"id"`
	Status     Status        `json:"status"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Bus event types.
const (
	EventTaskPending   = "task.pending"
	EventTaskActive    = "task.active"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
	EventQueueError    = "queue.error"
)

// Snapshot is a point-in-time view of a queue.
type Snapshot struct {
	Name             string `json:"name,omitempty"`
	ConcurrencyLimit int    `json:"concurrency_limit"`
	HaltOnFailure    bool   `json:"halt_on_failure"`
	Paused           bool   `json:"paused"`

	Backlog int `json:"backlog"`
	Running int `json:"running"`

	Submitted  uint64 `json:"submitted"`
	Admitted   uint64 `json:"admitted"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
	HaltErrors int    `json:"halt_errors"`

	History []HistoryItem `json:"history,omitempty"`
}
