package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// manualClock fires timers only when the test advances it.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	t.clock.timers = slices.DeleteFunc(t.clock.timers, func(o *manualTimer) bool { return o == t })
	return was
}

// Advance moves time forward by d, running every timer that comes due in
// order, including timers scheduled by those callbacks.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *manualTimer
		for _, t := range c.timers {
			if t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.stopped = true
		c.timers = slices.DeleteFunc(c.timers, func(o *manualTimer) bool { return o == next })
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()

		next.f()
	}
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// fakeResponse is one scripted status reply.
type fakeResponse struct {
	State    RemoteState     `json:"state"`
	Progress int             `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	err      error
}

func running(p int) fakeResponse { return fakeResponse{State: RemoteRunning, Progress: p} }

func completed(result string) fakeResponse {
	return fakeResponse{State: RemoteCompleted, Progress: 100, Result: json.RawMessage(result)}
}

func netErr() fakeResponse { return fakeResponse{err: errors.New("connection refused")} }

// fakeAdapter replays scripted responses; the last one repeats.
type fakeAdapter struct {
	kind Kind

	mu          sync.Mutex
	nextID      int
	submitState RemoteState
	submitReason string
	submitErr   error
	responses   []fakeResponse
	fetches     int
	onFetch     func(n int)
	cancelled   []string
	paused      []string
	resumed     []string

	terminal chan Task
}

func newFakeAdapter(kind Kind, responses ...fakeResponse) *fakeAdapter {
	return &fakeAdapter{
		kind:      kind,
		responses: responses,
		terminal:  make(chan Task, 16),
	}
}

func (a *fakeAdapter) Kind() Kind { return a.kind }

func (a *fakeAdapter) Submit(_ context.Context, _ any) (Submission, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.submitErr != nil {
		return Submission{}, a.submitErr
	}
	a.nextID++
	return Submission{
		TaskID:      fmt.Sprintf("%s-%d", a.kind, a.nextID),
		RemoteState: a.submitState,
		Reason:      a.submitReason,
	}, nil
}

func (a *fakeAdapter) FetchStatus(_ context.Context, _ string) (json.RawMessage, error) {
	a.mu.Lock()
	a.fetches++
	n := a.fetches
	var resp fakeResponse
	if len(a.responses) > 0 {
		resp = a.responses[min(n, len(a.responses))-1]
	} else {
		resp = running(0)
	}
	hook := a.onFetch
	a.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return json.Marshal(resp)
}

func (a *fakeAdapter) ParseStatus(raw json.RawMessage) (StatusReceived, error) {
	var resp fakeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return StatusReceived{}, err
	}
	return StatusReceived{
		RemoteState: resp.State,
		Progress:    resp.Progress,
		Result:      resp.Result,
		Reason:      resp.Reason,
	}, nil
}

func (a *fakeAdapter) OnTerminal(_ context.Context, t Task) {
	a.terminal <- t
}

func (a *fakeAdapter) CancelRemote(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = append(a.cancelled, id)
	return nil
}

func (a *fakeAdapter) PauseRemote(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = append(a.paused, id)
	return nil
}

func (a *fakeAdapter) ResumeRemote(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resumed = append(a.resumed, id)
	return nil
}

func (a *fakeAdapter) fetchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches
}

func (a *fakeAdapter) remoteCalls() (cancelled, paused, resumed []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.cancelled), slices.Clone(a.paused), slices.Clone(a.resumed)
}

func testPolicies() map[Kind]Policy {
	policies := make(map[Kind]Policy)
	for _, k := range Kinds {
		policies[k] = Policy{
			BaseInterval:   time.Second,
			MaxInterval:    8 * time.Second,
			MaxAttempts:    3,
			StaleAfter:     time.Minute,
			RequestTimeout: 5 * time.Second,
			Pausable:       k == KindCrawlJob,
		}
	}
	return policies
}

func newTestEngine(t *testing.T, policies map[Kind]Policy, adapters ...Adapter) (*Engine, *manualClock) {
	t.Helper()
	if policies == nil {
		policies = testPolicies()
	}
	clock := newManualClock()
	e, err := New(adapters, Options{
		Policies: policies,
		Clock:    clock,
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Shutdown(context.Background()) })
	return e, clock
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func waitTerminal(t *testing.T, a *fakeAdapter) Task {
	t.Helper()
	select {
	case tk := <-a.terminal:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatal("OnTerminal was not called")
		return Task{}
	}
}

// hookHandler calls fn for every record before passing it on.
type hookHandler struct {
	slog.Handler
	fn func(slog.Record)
}

func (h *hookHandler) Handle(ctx context.Context, r slog.Record) error {
	h.fn(r)
	return h.Handler.Handle(ctx, r)
}

func (h *hookHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &hookHandler{Handler: h.Handler.WithAttrs(attrs), fn: h.fn}
}

func (h *hookHandler) WithGroup(name string) slog.Handler {
	return &hookHandler{Handler: h.Handler.WithGroup(name), fn: h.fn}
}
