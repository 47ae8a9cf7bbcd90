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

var generationVocabulary = vocabulary{
	"queued":     task.RemotePending,
	"generating": task.RemoteRunning,
	"done":       task.RemoteCompleted,
	"failed":     task.RemoteFailed,
}

// streamTimeout bounds how long the generated content may take to stream.
const streamTimeout = 2 * time.Minute

// Generation tracks content generation. Once a generation is done its
// content is streamed over the subscription endpoint.
type Generation struct {
	client    *client.Client
	logger    *slog.Logger
	sink      io.Writer
	generated func(task.Task, string)
}

var _ task.Canceler = (*Generation)(nil)

// NewGeneration creates the generation adapter. Streamed tokens are written
// to sink when it is non-nil; generated receives the complete content.
func NewGeneration(c *client.Client, sink io.Writer, generated func(task.Task, string), logger *slog.Logger) *Generation {
	return &Generation{client: c, logger: logger, sink: sink, generated: generated}
}

func (a *Generation) Kind() task.Kind { return task.KindContentGeneration }

// Submit starts a generation. payload is a client.GenerationInput.
func (a *Generation) Submit(ctx context.Context, payload any) (task.Submission, error) {
	input, err := payloadAs[client.GenerationInput](a.Kind(), payload)
	if err != nil {
		return task.Submission{}, err
	}
	if strings.TrimSpace(input.Prompt) == "" {
		return task.Submission{}, fmt.Errorf("generation: prompt is required")
	}

	gen, err := a.client.GenerateContent(ctx, input)
	if err != nil {
		return task.Submission{}, fmt.Errorf("generate content: %w", err)
	}
	state, reason := generationVocabulary.normalize(a.logger, a.Kind(), gen.State, gen.Error)
	return task.Submission{TaskID: gen.ID, RemoteState: state, Reason: reason}, nil
}

func (a *Generation) FetchStatus(ctx context.Context, id string) (json.RawMessage, error) {
	return a.client.GenerationStatus(ctx, id)
}

func (a *Generation) ParseStatus(raw json.RawMessage) (task.StatusReceived, error) {
	gen, err := decodeStatus[client.Generation](a.Kind(), raw)
	if err != nil {
		return task.StatusReceived{}, err
	}

	state, reason := generationVocabulary.normalize(a.logger, a.Kind(), gen.State, gen.Error)
	status := task.StatusReceived{RemoteState: state, Progress: gen.Progress, Reason: reason}
	if state == task.RemoteCompleted {
		status.Result = raw
	}
	return status, nil
}

// OnTerminal streams the finished content into the sink.
func (a *Generation) OnTerminal(ctx context.Context, t task.Task) {
	if t.State != task.StateCompleted {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	var content strings.Builder
	err := a.client.StreamContent(ctx, t.ID, func(token string) error {
		content.WriteString(token)
		if a.sink != nil {
			if _, err := io.WriteString(a.sink, token); err != nil {
				return fmt.Errorf("write token: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		a.logger.Warn("stream generated content", "task_id", t.ID, "error", err)
		return
	}
	if a.generated != nil {
		a.generated(t, content.String())
	}
}

func (a *Generation) CancelRemote(ctx context.Context, id string) error {
	ok, err := a.client.CancelGeneration(ctx, id)
	return refused(a.Kind(), "cancel", id, ok, err)
}
