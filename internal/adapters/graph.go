package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/knowhow-portal/internal/client"
	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

var graphVocabulary = vocabulary{
	"pending":    task.RemotePending,
	"extracting": task.RemoteRunning,
	"building":   task.RemoteRunning,
	"completed":  task.RemoteCompleted,
	"failed":     task.RemoteFailed,
}

// Graph tracks knowledge graph builds.
type Graph struct {
	client *client.Client
	logger *slog.Logger
	render func(task.Task, *client.GraphSummary)
}

var _ task.Canceler = (*Graph)(nil)

// NewGraph creates the graph build adapter. render receives the summary of
// the built graph.
func NewGraph(c *client.Client, render func(task.Task, *client.GraphSummary), logger *slog.Logger) *Graph {
	return &Graph{client: c, logger: logger, render: render}
}

func (a *Graph) Kind() task.Kind { return task.KindKnowledgeGraphBuild }

// Submit starts a build. payload is a client.GraphBuildInput.
func (a *Graph) Submit(ctx context.Context, payload any) (task.Submission, error) {
	input, err := payloadAs[client.GraphBuildInput](a.Kind(), payload)
	if err != nil {
		return task.Submission{}, err
	}

	build, err := a.client.BuildGraph(ctx, input)
	if err != nil {
		return task.Submission{}, fmt.Errorf("build graph: %w", err)
	}
	state, reason := graphVocabulary.normalize(a.logger, a.Kind(), build.Status, build.Error)
	return task.Submission{TaskID: build.ID, RemoteState: state, Reason: reason}, nil
}

func (a *Graph) FetchStatus(ctx context.Context, id string) (json.RawMessage, error) {
	return a.client.GraphBuildStatus(ctx, id)
}

func (a *Graph) ParseStatus(raw json.RawMessage) (task.StatusReceived, error) {
	build, err := decodeStatus[client.GraphBuild](a.Kind(), raw)
	if err != nil {
		return task.StatusReceived{}, err
	}

	state, reason := graphVocabulary.normalize(a.logger, a.Kind(), build.Status, build.Error)
	status := task.StatusReceived{RemoteState: state, Progress: build.Progress, Reason: reason}
	if state == task.RemoteCompleted {
		status.Result = raw
	}
	return status, nil
}

// OnTerminal fetches the graph summary and hands it to the renderer.
func (a *Graph) OnTerminal(ctx context.Context, t task.Task) {
	if t.State != task.StateCompleted || a.render == nil {
		return
	}

	var build client.GraphBuild
	if err := json.Unmarshal(t.Result, &build); err != nil {
		a.logger.Warn("decode graph build", "task_id", t.ID, "error", err)
		return
	}
	if build.GraphID == nil {
		a.logger.Warn("graph build finished without a graph id", "task_id", t.ID)
		return
	}

	ctx, cancel := terminalCtx(ctx)
	defer cancel()
	summary, err := a.client.GetGraphSummary(ctx, *build.GraphID)
	if err != nil {
		a.logger.Warn("fetch graph summary", "task_id", t.ID, "error", err)
		return
	}
	a.render(t, summary)
}

func (a *Graph) CancelRemote(ctx context.Context, id string) error {
	ok, err := a.client.CancelGraphBuild(ctx, id)
	return refused(a.Kind(), "cancel", id, ok, err)
}
