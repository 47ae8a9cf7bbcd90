package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

// scriptedAdapter answers status requests from a fixed list; the last
// state repeats.
type scriptedAdapter struct {
	kind        task.Kind
	states      []task.RemoteState
	submitState task.RemoteState

	mu      sync.Mutex
	next    int
	fetches map[string]int
}

func newScriptedAdapter(kind task.Kind, states ...task.RemoteState) *scriptedAdapter {
	return &scriptedAdapter{kind: kind, states: states, fetches: make(map[string]int)}
}

func (a *scriptedAdapter) Kind() task.Kind { return a.kind }

func (a *scriptedAdapter) Submit(context.Context, any) (task.Submission, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	return task.Submission{TaskID: fmt.Sprintf("t-%d", a.next), RemoteState: a.submitState}, nil
}

func (a *scriptedAdapter) FetchStatus(_ context.Context, id string) (json.RawMessage, error) {
	a.mu.Lock()
	n := a.fetches[id]
	a.fetches[id]++
	a.mu.Unlock()

	state := a.states[min(n, len(a.states)-1)]
	progress := 0
	switch state {
	case task.RemoteRunning:
		progress = 50
	case task.RemoteCompleted:
		progress = 100
	}
	return json.Marshal(map[string]any{"state": state, "progress": progress})
}

func (a *scriptedAdapter) ParseStatus(raw json.RawMessage) (task.StatusReceived, error) {
	var body struct {
		State    task.RemoteState `json:"state"`
		Progress int              `json:"progress"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return task.StatusReceived{}, err
	}
	s := task.StatusReceived{RemoteState: body.State, Progress: body.Progress}
	if body.State == task.RemoteFailed {
		s.Reason = "boom"
	}
	return s, nil
}

func (a *scriptedAdapter) OnTerminal(context.Context, task.Task) {}

func newTestEngine(t *testing.T, adapters ...task.Adapter) *task.Engine {
	t.Helper()
	return newBufferedEngine(t, 0, adapters...)
}

// newBufferedEngine keeps only the last buffer events in history.
func newBufferedEngine(t *testing.T, buffer int, adapters ...task.Adapter) *task.Engine {
	t.Helper()
	policies := make(map[task.Kind]task.Policy)
	for _, k := range task.Kinds {
		policies[k] = task.Policy{
			BaseInterval:   5 * time.Millisecond,
			MaxInterval:    20 * time.Millisecond,
			MaxAttempts:    3,
			StaleAfter:     time.Minute,
			RequestTimeout: time.Second,
		}
	}
	e, err := task.New(adapters, task.Options{Policies: policies, Logger: testLogger(), EventBuffer: buffer})
	require.NoError(t, err)
	t.Cleanup(func() { e.Shutdown(context.Background()) })
	return e
}
