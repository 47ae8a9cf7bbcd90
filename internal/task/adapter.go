package task

import (
	"context"
	"encoding/json"
	"time"
)

// Submission is the server's answer to a creation request.
type Submission struct {
	TaskID string
	// RemoteState is the initial state reported by the creation endpoint.
	// Empty means pending.
	RemoteState RemoteState
	// Reason is the server's failure message when RemoteState is failed.
	Reason string
}

// Adapter binds one feature to the engine. Adapters never mutate tasks;
// they only talk to the server and translate its vocabulary.
type Adapter interface {
	Kind() Kind
	// Submit calls the feature's creation endpoint.
	Submit(ctx context.Context, payload any) (Submission, error)
	// FetchStatus performs one status request.
	FetchStatus(ctx context.Context, taskID string) (json.RawMessage, error)
	// ParseStatus normalizes a status response.
	ParseStatus(raw json.RawMessage) (StatusReceived, error)
	// OnTerminal runs the feature's side effect once the task is terminal.
	OnTerminal(ctx context.Context, t Task)
}

// Canceler is implemented by adapters whose server supports cancellation.
type Canceler interface {
	CancelRemote(ctx context.Context, taskID string) error
}

// Pauser is implemented by adapters whose server can suspend work.
type Pauser interface {
	PauseRemote(ctx context.Context, taskID string) error
	ResumeRemote(ctx context.Context, taskID string) error
}

// Observer receives poll and transition measurements.
type Observer interface {
	PollCompleted(kind Kind, d time.Duration, err error)
	Transitioned(kind Kind, from, to State)
}

type nopObserver struct{}

func (nopObserver) PollCompleted(Kind, time.Duration, error) {}
func (nopObserver) Transitioned(Kind, State, State)         {}
