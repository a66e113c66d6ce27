package task

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateTask is returned when a task_id is already present in the
	// queue or the dead letter queue.
	ErrDuplicateTask = errors.New("task already exists")

	// ErrNotFound is returned when a task_id is unknown to the queue.
	ErrNotFound = errors.New("task not found")

	// ErrNotPending is returned by bump when the task is not in pending
	// status.
	ErrNotPending = errors.New("task is not pending")

	// ErrNotCancellable is returned by cancel when the task is currently
	// processing.
	ErrNotCancellable = errors.New("task is processing and cannot be cancelled")

	// ErrEmptyQueue is the sentinel returned by DequeueNext when no pending
	// task is available. It is not an exceptional condition.
	ErrEmptyQueue = errors.New("no pending tasks")
)

// StageError is a stage execution failure carrying its retry classification.
type StageError struct {
	Kind ErrorType
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage error: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable stage failure.
func Transient(err error) error {
	return &StageError{Kind: ErrorTransient, Err: err}
}

// Fatal wraps err as an unretryable stage failure.
func Fatal(err error) error {
	return &StageError{Kind: ErrorFatal, Err: err}
}
