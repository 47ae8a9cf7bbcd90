package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Signal is an input to the state machine.
type Signal interface {
	signalName() string
}

// StatusReceived carries a parsed status response.
type StatusReceived struct {
	RemoteState RemoteState
	Progress    int
	Result      json.RawMessage
	// Reason is the server-provided failure message for RemoteFailed.
	Reason string
}

// PollFailed reports that a status request could not be completed.
type PollFailed struct {
	Err error
}

// UserPause, UserResume and UserCancel are user-initiated signals.
type (
	UserPause  struct{}
	UserResume struct{}
	UserCancel struct{}
)

// Timeout reports that the task exceeded its time ceiling.
type Timeout struct{}

func (StatusReceived) signalName() string { return "status_received" }
func (PollFailed) signalName() string     { return "poll_failed" }
func (UserPause) signalName() string      { return "user_pause" }
func (UserResume) signalName() string     { return "user_resume" }
func (UserCancel) signalName() string     { return "user_cancel" }
func (Timeout) signalName() string        { return "timeout" }

// SignalName returns a stable name for logging.
func SignalName(s Signal) string {
	return s.signalName()
}

// Transition applies sig to t under policy p and returns the new task and
// the events to emit, in order. It has no side effects. A rejected signal
// returns t unchanged together with an error.
func Transition(t Task, sig Signal, p Policy, now time.Time) (Task, []EventType, error) {
	if t.State.IsTerminal() {
		return t, nil, fmt.Errorf("%w: task %s is %s", ErrInvalidState, t.ID, t.State)
	}

	switch s := sig.(type) {
	case StatusReceived:
		return applyStatus(t, s, p, now)

	case PollFailed:
		t.Attempt++
		t.PollInterval = p.Backoff(t.PollInterval)
		if t.State != StatePaused && t.Attempt >= p.MaxAttempts {
			reason := fmt.Sprintf("%d consecutive status requests failed", t.Attempt)
			if s.Err != nil {
				reason = fmt.Sprintf("%s: %v", reason, s.Err)
			}
			return fail(t, FailureUnreachable, reason), []EventType{EventFailed}, nil
		}
		return t, nil, nil

	case UserPause:
		if !p.Pausable {
			return t, nil, fmt.Errorf("%w: %s tasks cannot be paused", ErrUnsupportedOperation, t.Kind)
		}
		if t.State != StateRunning {
			return t, nil, fmt.Errorf("%w: cannot pause a %s task", ErrInvalidState, t.State)
		}
		t.State = StatePaused
		return t, []EventType{EventPaused}, nil

	case UserResume:
		if !p.Pausable {
			return t, nil, fmt.Errorf("%w: %s tasks cannot be resumed", ErrUnsupportedOperation, t.Kind)
		}
		if t.State != StatePaused {
			return t, nil, fmt.Errorf("%w: cannot resume a %s task", ErrInvalidState, t.State)
		}
		t.State = StateRunning
		return t, []EventType{EventResumed}, nil

	case UserCancel:
		t.State = StateCancelled
		return t, []EventType{EventCancelled}, nil

	case Timeout:
		reason := fmt.Sprintf("no terminal state after %s", now.Sub(t.StartedAt).Round(time.Second))
		return fail(t, FailureStale, reason), []EventType{EventFailed}, nil

	default:
		return t, nil, fmt.Errorf("unknown signal %T", sig)
	}
}

func applyStatus(t Task, s StatusReceived, p Policy, now time.Time) (Task, []EventType, error) {
	switch s.RemoteState {
	case RemotePending, RemoteRunning, RemoteCompleted, RemoteFailed:
	default:
		return t, nil, fmt.Errorf("unknown remote state %q", s.RemoteState)
	}

	t.UpdatedAt = now
	t.Attempt = 0
	t.PollInterval = p.BaseInterval

	// Paused tasks keep polling as a heartbeat but ignore what they hear.
	if t.State == StatePaused {
		return t, nil, nil
	}

	var events []EventType
	if t.State == StatePending {
		if s.RemoteState == RemotePending {
			return t, nil, nil
		}
		t.State = StateRunning
		events = append(events, EventStarted)
	}

	switch s.RemoteState {
	case RemotePending, RemoteRunning:
		// Progress=100 while running is not completion; only the remote
		// state decides that.
		if next := max(t.Progress, clampProgress(s.Progress)); next != t.Progress {
			t.Progress = next
			events = append(events, EventProgressed)
		}
		return t, events, nil

	case RemoteCompleted:
		t.State = StateCompleted
		t.Progress = 100
		t.Result = s.Result
		t.Error = nil
		return t, append(events, EventCompleted), nil

	default:
		reason := s.Reason
		if reason == "" {
			reason = "server reported failure without a message"
		}
		return fail(t, FailureRemoteFailure, reason), append(events, EventFailed), nil
	}
}

func fail(t Task, code FailureCode, reason string) Task {
	t.State = StateFailed
	t.Result = nil
	t.Error = &Failure{Code: code, Reason: reason}
	return t
}
