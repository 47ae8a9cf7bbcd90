package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/raphaelgruber/knowhow-portal/internal/client"
	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

var uploadVocabulary = vocabulary{
	"pending":    task.RemotePending,
	"uploaded":   task.RemotePending,
	"running":    task.RemoteRunning,
	"processing": task.RemoteRunning,
	"completed":  task.RemoteCompleted,
	"ready":      task.RemoteCompleted,
	"failed":     task.RemoteFailed,
}

// UploadRequest is the payload for a document upload.
type UploadRequest struct {
	Paths        []string
	Labels       []string
	ExtractGraph *bool
}

// Upload tracks server-side processing of uploaded documents.
type Upload struct {
	client    *client.Client
	logger    *slog.Logger
	documents func(task.Task, []client.Document)
}

var _ task.Canceler = (*Upload)(nil)

// NewUpload creates the upload adapter. documents receives the refreshed
// document list once processing completes.
func NewUpload(c *client.Client, documents func(task.Task, []client.Document), logger *slog.Logger) *Upload {
	return &Upload{client: c, logger: logger, documents: documents}
}

func (a *Upload) Kind() task.Kind { return task.KindDocumentUpload }

// Submit uploads every file in the request in one multipart mutation.
func (a *Upload) Submit(ctx context.Context, payload any) (task.Submission, error) {
	req, err := payloadAs[UploadRequest](a.Kind(), payload)
	if err != nil {
		return task.Submission{}, err
	}
	if len(req.Paths) == 0 {
		return task.Submission{}, fmt.Errorf("upload: no files given")
	}

	files := make([]client.Upload, 0, len(req.Paths))
	for _, path := range req.Paths {
		f, err := os.Open(path)
		if err != nil {
			return task.Submission{}, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		files = append(files, client.Upload{Name: filepath.Base(path), Content: f})
	}

	job, err := a.client.UploadDocuments(ctx, files, &client.IngestOptions{
		Labels:       req.Labels,
		ExtractGraph: req.ExtractGraph,
	})
	if err != nil {
		return task.Submission{}, fmt.Errorf("upload documents: %w", err)
	}
	state, reason := uploadVocabulary.normalize(a.logger, a.Kind(), job.Status, job.Error)
	return task.Submission{TaskID: job.ID, RemoteState: state, Reason: reason}, nil
}

func (a *Upload) FetchStatus(ctx context.Context, id string) (json.RawMessage, error) {
	return a.client.JobStatus(ctx, id)
}

// ParseStatus reports processed files against the job total. The ingest
// result becomes the task result.
func (a *Upload) ParseStatus(raw json.RawMessage) (task.StatusReceived, error) {
	job, err := decodeStatus[client.Job](a.Kind(), raw)
	if err != nil {
		return task.StatusReceived{}, err
	}

	state, reason := uploadVocabulary.normalize(a.logger, a.Kind(), job.Status, job.Error)
	status := task.StatusReceived{
		RemoteState: state,
		Progress:    percent(job.Progress, job.Total),
		Reason:      reason,
	}
	if state == task.RemoteCompleted && job.Result != nil {
		result, err := json.Marshal(job.Result)
		if err != nil {
			return task.StatusReceived{}, fmt.Errorf("encode ingest result: %w", err)
		}
		status.Result = result
	}
	return status, nil
}

// OnTerminal refreshes the document list after a successful upload.
func (a *Upload) OnTerminal(ctx context.Context, t task.Task) {
	if t.State != task.StateCompleted || a.documents == nil {
		return
	}

	var result client.IngestResult
	if len(t.Result) > 0 {
		if err := json.Unmarshal(t.Result, &result); err == nil {
			for _, msg := range result.Errors {
				a.logger.Warn("upload file error", "task_id", t.ID, "error", msg)
			}
		}
	}

	ctx, cancel := terminalCtx(ctx)
	defer cancel()
	docs, err := a.client.ListDocuments(ctx, nil)
	if err != nil {
		a.logger.Warn("refresh document list", "task_id", t.ID, "error", err)
		return
	}
	a.documents(t, docs)
}

func (a *Upload) CancelRemote(ctx context.Context, id string) error {
	ok, err := a.client.CancelJob(ctx, id)
	return refused(a.Kind(), "cancel", id, ok, err)
}
