package taskq

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConcurrency = errors.New("taskq: concurrency limit must be positive")
	ErrAlreadyStarted     = errors.New("taskq: task already started")
	ErrNilWork            = errors.New("taskq: nil work")
	ErrHalted             = errors.New("taskq: queue halted after failure")
)

// PanicError is the failure recorded when a task's work panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("taskq: work panicked: %v", e.Value) }

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
