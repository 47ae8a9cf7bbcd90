package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	// Policies override DefaultPolicies per kind.
	Policies    map[Kind]Policy
	Clock       Clock
	Observer    Observer
	Logger      *slog.Logger
	EventBuffer int
}

// Engine is the entry point for features: it submits tasks through their
// adapter, polls them to completion and publishes lifecycle events.
type Engine struct {
	registry *Registry
	events   *Aggregator
	adapters map[Kind]Adapter
	policies map[Kind]Policy
	clock    Clock
	observer Observer
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pollers  map[string]*poller
	stopping bool
}

// New creates an engine serving the given adapters.
func New(adapters []Adapter, opts Options) (*Engine, error) {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	policies := DefaultPolicies()
	maps.Copy(policies, opts.Policies)
	for kind, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy for %s: %w", kind, err)
		}
	}

	byKind := make(map[Kind]Adapter, len(adapters))
	for _, a := range adapters {
		if _, dup := byKind[a.Kind()]; dup {
			return nil, fmt.Errorf("duplicate adapter for %s", a.Kind())
		}
		if _, ok := policies[a.Kind()]; !ok {
			return nil, fmt.Errorf("no policy for %s", a.Kind())
		}
		byKind[a.Kind()] = a
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		registry: NewRegistry(opts.Clock.Now),
		events:   NewAggregator(opts.EventBuffer, opts.Logger),
		adapters: byKind,
		policies: policies,
		clock:    opts.Clock,
		observer: opts.Observer,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		pollers:  make(map[string]*poller),
	}, nil
}

// Submit creates the task on the server, registers it and starts polling.
func (e *Engine) Submit(ctx context.Context, kind Kind, payload any) (Task, error) {
	a, ok := e.adapters[kind]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if e.isStopping() {
		return Task{}, errors.New("engine stopped")
	}
	policy := e.policies[kind]

	sub, err := a.Submit(ctx, payload)
	if err != nil {
		return Task{}, fmt.Errorf("submit %s: %w", kind, err)
	}
	// The poller is registered before the task becomes visible, so a
	// terminal transition triggered by an early subscriber still finds it
	// in finalize.
	p := newPoller(e, a, sub.TaskID, policy)
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return Task{}, errors.New("engine stopped")
	}
	if _, dup := e.pollers[sub.TaskID]; dup {
		e.mu.Unlock()
		return Task{}, fmt.Errorf("%w: task %s already registered", ErrInvalidState, sub.TaskID)
	}
	e.pollers[sub.TaskID] = p
	e.mu.Unlock()

	if _, err := e.registry.Create(sub.TaskID, kind, payload); err != nil {
		e.detach(sub.TaskID)
		return Task{}, err
	}
	t, err := e.registry.Update(sub.TaskID, func(t *Task) error {
		t.PollInterval = policy.BaseInterval
		e.events.Publish(newEvent(EventSubmitted, *t, e.clock.Now()))
		return nil
	})
	if err != nil {
		e.detach(sub.TaskID)
		return Task{}, err
	}
	e.logger.Info("task submitted", "task_id", t.ID, "kind", kind)

	if sub.RemoteState != "" && sub.RemoteState != RemotePending {
		next, err := e.apply(t.ID, StatusReceived{RemoteState: sub.RemoteState, Reason: sub.Reason})
		switch {
		case errors.Is(err, ErrInvalidState):
			// Already made terminal by the caller's own Cancel.
			return e.Get(t.ID)
		case err != nil:
			return next, err
		}
		t = next
		if t.State.IsTerminal() {
			return t, nil
		}
	}
	// start is a no-op when finalize already stopped the poller.
	p.start()
	return t, nil
}

// Get returns a snapshot of the task.
func (e *Engine) Get(id string) (Task, error) {
	return e.registry.Get(id)
}

// List returns tasks in submission order, live tasks first.
func (e *Engine) List(kinds ...Kind) []Task {
	return e.registry.List(kinds...)
}

// Policy returns the effective policy for kind.
func (e *Engine) Policy(kind Kind) (Policy, bool) {
	p, ok := e.policies[kind]
	return p, ok
}

// Pause suspends a running crawl job.
func (e *Engine) Pause(id string) error {
	t, err := e.apply(id, UserPause{})
	if err != nil {
		return err
	}
	if p, ok := e.adapters[t.Kind].(Pauser); ok {
		e.remote(t, "pause", p.PauseRemote)
	}
	return nil
}

// Resume continues a paused crawl job.
func (e *Engine) Resume(id string) error {
	t, err := e.apply(id, UserResume{})
	if err != nil {
		return err
	}
	if p, ok := e.adapters[t.Kind].(Pauser); ok {
		e.remote(t, "resume", p.ResumeRemote)
	}
	return nil
}

// Cancel stops polling immediately and asks the server to cancel the task.
// The server request is best-effort.
func (e *Engine) Cancel(id string) error {
	t, err := e.apply(id, UserCancel{})
	if err != nil {
		return err
	}
	if c, ok := e.adapters[t.Kind].(Canceler); ok {
		e.remote(t, "cancel", c.CancelRemote)
	}
	return nil
}

// Dismiss removes a terminal task from the registry.
func (e *Engine) Dismiss(id string) error {
	t, err := e.registry.Dismiss(id)
	if err != nil {
		return err
	}
	if p := e.detach(id); p != nil {
		p.stop()
	}
	e.events.Publish(newEvent(EventDismissed, t, e.clock.Now()))
	e.logger.Debug("task dismissed", "task_id", id, "kind", t.Kind)
	return nil
}

// Subscribe registers fn for events matching pred. Call the returned
// function to unsubscribe.
func (e *Engine) Subscribe(pred Predicate, fn func(Event), opts ...SubscribeOption) func() {
	return e.events.Subscribe(pred, fn, opts...)
}

// Recent returns buffered events matching pred, oldest first.
func (e *Engine) Recent(pred Predicate) []Event {
	return e.events.Recent(pred)
}

// Shutdown stops every poller and closes subscriptions. Side effects that
// are already running get until ctx is done to finish; then they are
// cancelled. Tasks keep their last state.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	e.stopping = true
	pollers := e.pollers
	e.pollers = make(map[string]*poller)
	e.mu.Unlock()
	for _, p := range pollers {
		p.stop()
	}

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		e.logger.Warn("shutdown deadline reached, cancelling side effects")
		e.cancel()
		<-drained
	}
	e.cancel()
	e.events.Close()
}

// apply feeds sig to the state machine under the task's registry slot and
// publishes the resulting events before the slot is released.
func (e *Engine) apply(id string, sig Signal) (Task, error) {
	var from State
	t, err := e.registry.Update(id, func(t *Task) error {
		from = t.State
		now := e.clock.Now()
		next, events, err := Transition(*t, sig, e.policies[t.Kind], now)
		if err != nil {
			return err
		}
		*t = next
		for _, typ := range events {
			e.events.Publish(newEvent(typ, next, now))
		}
		return nil
	})
	if err != nil {
		return t, err
	}

	if from != t.State {
		e.observer.Transitioned(t.Kind, from, t.State)
		e.logger.Debug("task transitioned",
			"task_id", id, "kind", t.Kind, "signal", SignalName(sig),
			"from", from, "to", t.State, "progress", t.Progress)
	}
	if t.State.IsTerminal() {
		e.finalize(t)
	}
	return t, nil
}

// finalize runs once per task, whichever path made it terminal.
func (e *Engine) finalize(t Task) {
	p := e.detach(t.ID)
	if p == nil {
		return
	}
	p.stop()

	switch t.State {
	case StateFailed:
		e.logger.Error("task failed", "task_id", t.ID, "kind", t.Kind, "error", t.Error)
	default:
		e.logger.Info("task finished", "task_id", t.ID, "kind", t.Kind, "state", t.State)
	}

	a := e.adapters[t.Kind]
	e.background(func(ctx context.Context) {
		a.OnTerminal(ctx, t)
	})
}

func (e *Engine) detach(id string) *poller {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pollers[id]
	delete(e.pollers, id)
	return p
}

// remote runs a best-effort server request for a user operation.
func (e *Engine) remote(t Task, op string, fn func(context.Context, string) error) {
	timeout := e.policies[t.Kind].RequestTimeout
	e.background(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := fn(ctx, t.ID); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("remote "+op+" failed", "task_id", t.ID, "kind", t.Kind, "error", err)
		}
	})
}

func (e *Engine) isStopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

func (e *Engine) background(fn func(ctx context.Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}
