package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/knowhow-portal/internal/client"
	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

var crawlVocabulary = vocabulary{
	"queued":    task.RemotePending,
	"pending":   task.RemotePending,
	"crawling":  task.RemoteRunning,
	"running":   task.RemoteRunning,
	"paused":    task.RemoteRunning,
	"completed": task.RemoteCompleted,
	"done":      task.RemoteCompleted,
	"error":     task.RemoteFailed,
	"failed":    task.RemoteFailed,
}

// Crawl tracks website crawls. It is the only pausable kind.
type Crawl struct {
	client    *client.Client
	logger    *slog.Logger
	documents func(task.Task, []client.Document)
}

var (
	_ task.Canceler = (*Crawl)(nil)
	_ task.Pauser   = (*Crawl)(nil)
)

// NewCrawl creates the crawl adapter. documents receives the crawled
// documents once a crawl completes.
func NewCrawl(c *client.Client, documents func(task.Task, []client.Document), logger *slog.Logger) *Crawl {
	return &Crawl{client: c, logger: logger, documents: documents}
}

func (a *Crawl) Kind() task.Kind { return task.KindCrawlJob }

// Submit starts a crawl. payload is a client.CrawlInput.
func (a *Crawl) Submit(ctx context.Context, payload any) (task.Submission, error) {
	input, err := payloadAs[client.CrawlInput](a.Kind(), payload)
	if err != nil {
		return task.Submission{}, err
	}
	if input.URL == "" {
		return task.Submission{}, fmt.Errorf("crawl: url is required")
	}

	job, err := a.client.StartCrawl(ctx, input)
	if err != nil {
		return task.Submission{}, fmt.Errorf("start crawl: %w", err)
	}
	state, reason := crawlVocabulary.normalize(a.logger, a.Kind(), job.Status, job.Error)
	return task.Submission{TaskID: job.ID, RemoteState: state, Reason: reason}, nil
}

func (a *Crawl) FetchStatus(ctx context.Context, id string) (json.RawMessage, error) {
	return a.client.CrawlStatus(ctx, id)
}

// ParseStatus reports pages crawled against the page total. The completed
// job itself becomes the task result.
func (a *Crawl) ParseStatus(raw json.RawMessage) (task.StatusReceived, error) {
	job, err := decodeStatus[client.CrawlJob](a.Kind(), raw)
	if err != nil {
		return task.StatusReceived{}, err
	}

	state, reason := crawlVocabulary.normalize(a.logger, a.Kind(), job.Status, job.Error)
	status := task.StatusReceived{
		RemoteState: state,
		Progress:    percent(job.PagesCrawled, job.PagesTotal),
		Reason:      reason,
	}
	if state == task.RemoteCompleted {
		status.Result = raw
	}
	return status, nil
}

// OnTerminal loads the documents a completed crawl produced.
func (a *Crawl) OnTerminal(ctx context.Context, t task.Task) {
	if t.State != task.StateCompleted || a.documents == nil {
		return
	}

	var job client.CrawlJob
	if err := json.Unmarshal(t.Result, &job); err != nil {
		a.logger.Warn("decode crawl result", "task_id", t.ID, "error", err)
		return
	}
	if len(job.DocumentIDs) == 0 {
		a.documents(t, nil)
		return
	}

	ctx, cancel := terminalCtx(ctx)
	defer cancel()
	docs, err := a.client.ListDocuments(ctx, job.DocumentIDs)
	if err != nil {
		a.logger.Warn("refresh crawled documents", "task_id", t.ID, "error", err)
		return
	}
	a.documents(t, docs)
}

func (a *Crawl) CancelRemote(ctx context.Context, id string) error {
	ok, err := a.client.CancelCrawl(ctx, id)
	return refused(a.Kind(), "cancel", id, ok, err)
}

func (a *Crawl) PauseRemote(ctx context.Context, id string) error {
	ok, err := a.client.PauseCrawl(ctx, id)
	return refused(a.Kind(), "pause", id, ok, err)
}

func (a *Crawl) ResumeRemote(ctx context.Context, id string) error {
	ok, err := a.client.ResumeCrawl(ctx, id)
	return refused(a.Kind(), "resume", id, ok, err)
}
