package taskq

import (
	"fmt"
	"time"
)

// Status is a task's lifecycle state. It doubles as the kind of an Event.
type Status int32

const (
	StatusPending Status = iota
	StatusActive
	StatusCompleted
	StatusFailed
)

// maxTaskEvents is the number of events a task can ever emit:
// pending, active and one terminal event.
const maxTaskEvents = 3

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Completed or Failed.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for v := StatusPending; v <= StatusFailed; v++ {
		if string(b) == v.String() {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("taskq: unknown status %q", b)
}

// Event is one lifecycle notification of a task.
//
// Result is set only for StatusCompleted, Err only for StatusFailed.
type Event[T any] struct {
	Status Status
	TaskID uint64
	Time   time.Time
	Result T
	Err    error
}
