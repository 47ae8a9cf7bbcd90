package task

import (
	"context"
	"errors"
	"sync"
	"time"
)

// poller drives one task. Each tick schedules the next one on the engine's
// clock, so a task never owns a goroutine between polls.
type poller struct {
	engine  *Engine
	adapter Adapter
	id      string
	kind    Kind
	policy  Policy

	mu      sync.Mutex
	timer   Timer
	stopped bool
}

func newPoller(e *Engine, a Adapter, id string, policy Policy) *poller {
	return &poller{
		engine:  e,
		adapter: a,
		id:      id,
		kind:    a.Kind(),
		policy:  policy,
	}
}

// start issues the first status request without delay.
func (p *poller) start() {
	p.schedule(0)
}

func (p *poller) schedule(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.timer = p.engine.clock.AfterFunc(d, p.tick)
}

// stop is idempotent. A request already in flight completes but its result
// is dropped.
func (p *poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (p *poller) active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped
}

func (p *poller) tick() {
	if !p.active() {
		return
	}
	e := p.engine
	logger := e.logger.With("task_id", p.id, "kind", p.kind)

	t, err := e.registry.Get(p.id)
	if err != nil || t.State.IsTerminal() {
		p.stop()
		return
	}

	if p.policy.IsStale(t, e.clock.Now()) {
		logger.Warn("task went stale", "updated_at", t.UpdatedAt, "started_at", t.StartedAt)
		if _, err := e.apply(p.id, Timeout{}); err != nil {
			p.stop()
		}
		return
	}

	sig := p.fetch()
	if !p.active() {
		logger.Debug("discarding status response for inactive task")
		return
	}

	next, err := e.apply(p.id, sig)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidState):
		p.stop()
		return
	case err != nil:
		logger.Warn("status response rejected", "error", err)
		p.schedule(t.PollInterval)
		return
	}

	if next.State.IsTerminal() {
		return
	}
	p.schedule(next.PollInterval)
}

// fetch performs one status request and turns the outcome into a signal.
func (p *poller) fetch() Signal {
	e := p.engine
	ctx, cancel := context.WithTimeout(e.ctx, p.policy.RequestTimeout)
	defer cancel()

	start := time.Now()
	raw, err := p.adapter.FetchStatus(ctx, p.id)
	var status StatusReceived
	if err == nil {
		status, err = p.adapter.ParseStatus(raw)
	}
	e.observer.PollCompleted(p.kind, time.Since(start), err)

	if err != nil {
		e.logger.Debug("status request failed", "task_id", p.id, "kind", p.kind, "error", err)
		return PollFailed{Err: err}
	}
	return status
}
