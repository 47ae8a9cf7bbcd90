// Package task implements the client-side lifecycle of long-running portal
// tasks: registration, status polling, state transitions and event fan-out.
package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies which portal feature owns a task.
type Kind string

const (
	KindCrawlJob            Kind = "crawl_job"
	KindDocumentUpload      Kind = "document_upload"
	KindSessionDocument     Kind = "session_document"
	KindContentGeneration   Kind = "content_generation"
	KindKnowledgeGraphBuild Kind = "knowledge_graph_build"
)

// Kinds lists every known kind in display order.
var Kinds = []Kind{
	KindCrawlJob,
	KindDocumentUpload,
	KindSessionDocument,
	KindContentGeneration,
	KindKnowledgeGraphBuild,
}

// ParseKind resolves a kind from its name. Dashes and case are ignored.
func ParseKind(s string) (Kind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, k := range Kinds {
		if string(k) == norm {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// State is the client-side lifecycle state of a task.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further signal can change the state.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// RemoteState is the normalized server-reported state. Adapters map each
// feature's vocabulary onto these four values.
type RemoteState string

const (
	RemotePending   RemoteState = "pending"
	RemoteRunning   RemoteState = "running"
	RemoteCompleted RemoteState = "completed"
	RemoteFailed    RemoteState = "failed"
)

// Task is a snapshot of one long-running server-side operation.
type Task struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	State        State           `json:"state"`
	Progress     int             `json:"progress"`
	StartedAt    time.Time       `json:"startedAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *Failure        `json:"error,omitempty"`
	PollInterval time.Duration   `json:"pollInterval"`
	Attempt      int             `json:"attempt"`
	Payload      any             `json:"payload,omitempty"`
}

// Clone returns a copy that shares no mutable memory with t.
// Payload is treated as immutable once submitted.
func (t Task) Clone() Task {
	c := t
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.Error != nil {
		f := *t.Error
		c.Error = &f
	}
	return c
}

// IsLive reports whether the task still has a poller attached.
func (t Task) IsLive() bool {
	return !t.State.IsTerminal()
}

func clampProgress(p int) int {
	return min(max(p, 0), 100)
}
