package task

import (
	"errors"
	"fmt"
)

// Sentinel errors for task operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the task id is unknown or was dismissed.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidState indicates the operation is not allowed in the task's
	// current state, e.g. dismissing a running task or resuming one that is
	// not paused.
	ErrInvalidState = errors.New("invalid task state")

	// ErrUnsupportedOperation indicates the task kind does not support the
	// operation. Only crawl jobs can be paused.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrUnknownKind indicates no adapter is registered for a kind.
	ErrUnknownKind = errors.New("unknown task kind")

	// ErrUnreachable indicates the status endpoint kept failing past the
	// retry budget.
	ErrUnreachable = errors.New("status endpoint unreachable")

	// ErrStale indicates the task exceeded its time ceiling without reaching
	// a terminal state.
	ErrStale = errors.New("task went stale")

	// ErrRemoteFailure indicates the server reported the task as failed.
	ErrRemoteFailure = errors.New("remote task failed")
)

// FailureCode classifies why a task ended in the failed state.
type FailureCode string

const (
	FailureUnreachable   FailureCode = "unreachable"
	FailureStale         FailureCode = "stale"
	FailureRemoteFailure FailureCode = "remote_failure"
)

// Failure is the error attached to a failed task.
type Failure struct {
	Code   FailureCode `json:"code"`
	Reason string      `json:"reason"`
}

func (f *Failure) Error() string {
	if f.Reason == "" {
		return string(f.Code)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Reason)
}

// Unwrap maps the code onto its sentinel so errors.Is works on failures.
func (f *Failure) Unwrap() error {
	switch f.Code {
	case FailureUnreachable:
		return ErrUnreachable
	case FailureStale:
		return ErrStale
	case FailureRemoteFailure:
		return ErrRemoteFailure
	default:
		return nil
	}
}
