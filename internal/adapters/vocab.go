// Package adapters binds the portal's long-running features to the task engine.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/knowhow-portal/internal/client"
	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

// reasonCancelledRemotely is reported when the server cancelled a task the
// user did not cancel locally.
const reasonCancelledRemotely = "cancelled remotely"

// vocabulary maps a feature's status words onto the engine's remote states.
// Lookups are case-insensitive.
type vocabulary map[string]task.RemoteState

// normalize translates status. A "cancelled" status becomes a failure, and
// words the vocabulary does not know count as pending so the task keeps its
// current state until a recognisable status arrives.
func (v vocabulary) normalize(logger *slog.Logger, kind task.Kind, status string, serverErr *string) (task.RemoteState, string) {
	word := strings.ToLower(strings.TrimSpace(status))
	if word == "cancelled" || word == "canceled" {
		return task.RemoteFailed, reasonCancelledRemotely
	}

	state, ok := v[word]
	if !ok {
		logger.Warn("unknown remote status", "kind", kind, "status", status)
		return task.RemotePending, ""
	}
	if state == task.RemoteFailed && serverErr != nil {
		return state, *serverErr
	}
	return state, ""
}

// percent converts done/total into a 0..100 progress value.
func percent(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return done * 100 / total
}

// payloadAs accepts either a T or a *T.
func payloadAs[T any](kind task.Kind, payload any) (T, error) {
	var zero T
	switch p := payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	}
	return zero, fmt.Errorf("%s: unexpected payload %T", kind, payload)
}

// decodeStatus unmarshals a raw status object.
func decodeStatus[T any](kind task.Kind, raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%s: decode status: %w", kind, err)
	}
	return v, nil
}

// refused turns the outcome of a boolean control mutation into an error.
func refused(kind task.Kind, op, id string, ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("%s %s %s: %w", op, kind, id, err)
	}
	if !ok {
		return fmt.Errorf("%s %s %s: server refused", op, kind, id)
	}
	return nil
}

// Hooks are the feature side effects run once a task is terminal. Nil hooks
// are skipped.
type Hooks struct {
	// Documents receives the refreshed document list after a crawl or upload.
	Documents func(t task.Task, docs []client.Document)
	// Attached is called when a pasted document is indexed into its session.
	Attached func(t task.Task, doc client.SessionDocument)
	// Content receives generated tokens as they stream in.
	Content io.Writer
	// Generated receives the full content of a finished generation.
	Generated func(t task.Task, content string)
	// Graph renders the summary of a built knowledge graph.
	Graph func(t task.Task, summary *client.GraphSummary)
}

// All returns one adapter per task kind, sharing c.
func All(c *client.Client, sessionID string, hooks Hooks, logger *slog.Logger) []task.Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return []task.Adapter{
		NewCrawl(c, hooks.Documents, logger),
		NewUpload(c, hooks.Documents, logger),
		NewSession(c, sessionID, hooks.Attached, logger),
		NewGeneration(c, hooks.Content, hooks.Generated, logger),
		NewGraph(c, hooks.Graph, logger),
	}
}

const terminalTimeout = 30 * time.Second

// terminalCtx bounds the side effect run after a task ends.
func terminalCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, terminalTimeout)
}
