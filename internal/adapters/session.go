package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/knowhow-portal/internal/client"
	"github.com/raphaelgruber/knowhow-portal/internal/parser"
	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

var sessionVocabulary = vocabulary{
	"pending":  task.RemotePending,
	"indexing": task.RemoteRunning,
	"indexed":  task.RemoteCompleted,
	"failed":   task.RemoteFailed,
}

// SessionRequest is the payload for pasting a document into a chat session.
// Title and labels are read from the text's frontmatter.
type SessionRequest struct {
	SessionID string
	Text      string
	Labels    []string
}

// Session tracks indexing of documents pasted into a chat session.
type Session struct {
	client    *client.Client
	logger    *slog.Logger
	sessionID string
	attached  func(task.Task, client.SessionDocument)
}

var _ task.Canceler = (*Session)(nil)

// NewSession creates the session document adapter. sessionID is used when a
// request does not name one.
func NewSession(c *client.Client, sessionID string, attached func(task.Task, client.SessionDocument), logger *slog.Logger) *Session {
	return &Session{client: c, logger: logger, sessionID: sessionID, attached: attached}
}

func (a *Session) Kind() task.Kind { return task.KindSessionDocument }

func (a *Session) Submit(ctx context.Context, payload any) (task.Submission, error) {
	req, err := payloadAs[SessionRequest](a.Kind(), payload)
	if err != nil {
		return task.Submission{}, err
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = a.sessionID
	}
	if sessionID == "" {
		return task.Submission{}, fmt.Errorf("session document: no session id")
	}

	pasted, err := parser.PreparePasted(req.Text, req.Labels)
	if err != nil {
		return task.Submission{}, err
	}

	doc, err := a.client.AddSessionDocument(ctx, client.SessionDocumentInput{
		SessionID: sessionID,
		Title:     pasted.Title,
		Content:   pasted.Content,
		Labels:    pasted.Labels,
		Metadata:  pasted.Metadata,
	})
	if err != nil {
		return task.Submission{}, fmt.Errorf("add session document: %w", err)
	}
	state, reason := sessionVocabulary.normalize(a.logger, a.Kind(), doc.Status, doc.Error)
	return task.Submission{TaskID: doc.ID, RemoteState: state, Reason: reason}, nil
}

func (a *Session) FetchStatus(ctx context.Context, id string) (json.RawMessage, error) {
	return a.client.SessionDocumentStatus(ctx, id)
}

func (a *Session) ParseStatus(raw json.RawMessage) (task.StatusReceived, error) {
	doc, err := decodeStatus[client.SessionDocument](a.Kind(), raw)
	if err != nil {
		return task.StatusReceived{}, err
	}

	state, reason := sessionVocabulary.normalize(a.logger, a.Kind(), doc.Status, doc.Error)
	status := task.StatusReceived{RemoteState: state, Progress: doc.Progress, Reason: reason}
	if state == task.RemoteCompleted {
		status.Result = raw
	}
	return status, nil
}

// OnTerminal attaches the indexed document to its session.
func (a *Session) OnTerminal(_ context.Context, t task.Task) {
	if t.State != task.StateCompleted || a.attached == nil {
		return
	}
	var doc client.SessionDocument
	if err := json.Unmarshal(t.Result, &doc); err != nil {
		a.logger.Warn("decode session document", "task_id", t.ID, "error", err)
		return
	}
	a.attached(t, doc)
}

// CancelRemote removes the half-indexed document from the session.
func (a *Session) CancelRemote(ctx context.Context, id string) error {
	ok, err := a.client.RemoveSessionDocument(ctx, id)
	return refused(a.Kind(), "remove", id, ok, err)
}
