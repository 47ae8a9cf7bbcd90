package task

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventSubmitted  EventType = "submitted"
	EventStarted    EventType = "started"
	EventProgressed EventType = "progressed"
	EventPaused     EventType = "paused"
	EventResumed    EventType = "resumed"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
	EventCancelled  EventType = "cancelled"
	EventDismissed  EventType = "dismissed"
)

// IsTerminal reports whether the event marks the end of a task.
func (e EventType) IsTerminal() bool {
	switch e {
	case EventCompleted, EventFailed, EventCancelled:
		return true
	default:
		return false
	}
}

// Event is emitted for every state transition and progress change.
type Event struct {
	Seq      uint64          `json:"seq"`
	Type     EventType       `json:"type"`
	TaskID   string          `json:"taskId"`
	Kind     Kind            `json:"kind"`
	State    State           `json:"state"`
	Progress int             `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *Failure        `json:"error,omitempty"`
	At       time.Time       `json:"at"`
}

func newEvent(typ EventType, t Task, at time.Time) Event {
	t = t.Clone()
	return Event{
		Type:     typ,
		TaskID:   t.ID,
		Kind:     t.Kind,
		State:    t.State,
		Progress: t.Progress,
		Result:   t.Result,
		Error:    t.Error,
		At:       at,
	}
}

// Predicate selects events for a subscriber.
type Predicate func(Event) bool

// All matches every event.
func All(Event) bool { return true }

// ForTask matches events of one task.
func ForTask(id string) Predicate {
	return func(e Event) bool { return e.TaskID == id }
}

// ForKind matches events of the given kinds.
func ForKind(kinds ...Kind) Predicate {
	return func(e Event) bool { return slices.Contains(kinds, e.Kind) }
}

// OfType matches events of the given types.
func OfType(types ...EventType) Predicate {
	return func(e Event) bool { return slices.Contains(types, e.Type) }
}

// Terminal matches completed, failed and cancelled events.
func Terminal(e Event) bool { return e.Type.IsTerminal() }

// And matches when every predicate matches.
func And(preds ...Predicate) Predicate {
	return func(e Event) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	replay bool
}

// WithReplay delivers the buffered history matching the predicate before
// any new event.
func WithReplay() SubscribeOption {
	return func(o *subscribeOptions) { o.replay = true }
}

// DefaultEventBuffer is the ring buffer capacity when none is configured.
const DefaultEventBuffer = 256

// Aggregator fans events out to subscribers and keeps the most recent ones.
// Publish never blocks on subscribers: every subscriber owns an ordered
// queue drained by its own goroutine.
type Aggregator struct {
	mu     sync.Mutex
	ring   []Event
	head   int
	size   int
	seq    uint64
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
	logger *slog.Logger
}

// NewAggregator creates an aggregator that retains the last capacity events.
func NewAggregator(capacity int, logger *slog.Logger) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultEventBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		ring:   make([]Event, capacity),
		subs:   make(map[uint64]*subscriber),
		logger: logger,
	}
}

// Publish assigns the next sequence number, records the event and queues
// it for every matching subscriber.
func (a *Aggregator) Publish(e Event) Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	e.Seq = a.seq
	a.ring[(a.head+a.size)%len(a.ring)] = e
	if a.size < len(a.ring) {
		a.size++
	} else {
		a.head = (a.head + 1) % len(a.ring)
	}

	if a.closed {
		return e
	}
	for _, s := range a.subs {
		if s.matches(e) {
			s.enqueue(e)
		}
	}
	return e
}

// Recent returns buffered events matching pred, oldest first.
func (a *Aggregator) Recent(pred Predicate) []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recentLocked(pred)
}

func (a *Aggregator) recentLocked(pred Predicate) []Event {
	if pred == nil {
		pred = All
	}
	var out []Event
	for i := range a.size {
		e := a.ring[(a.head+i)%len(a.ring)]
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Subscribe registers fn for events matching pred and returns a function
// that unsubscribes. fn runs on the subscriber's own goroutine, one event at
// a time, in publish order. It may call back into the engine.
func (a *Aggregator) Subscribe(pred Predicate, fn func(Event), opts ...SubscribeOption) func() {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if pred == nil {
		pred = All
	}

	s := &subscriber{
		pred:   pred,
		fn:     fn,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: a.logger,
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return func() {}
	}
	a.nextID++
	id := a.nextID
	if o.replay {
		// Queued under the same lock as Publish, so nothing is duplicated
		// or lost between history and live events.
		for _, e := range a.recentLocked(pred) {
			s.enqueue(e)
		}
	}
	a.subs[id] = s
	a.mu.Unlock()

	go s.run()

	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
		s.stop()
	}
}

// Close stops all subscribers. Later publishes are still buffered.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	subs := a.subs
	a.subs = make(map[uint64]*subscriber)
	a.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

type subscriber struct {
	pred   Predicate
	fn     func(Event)
	logger *slog.Logger

	mu    sync.Mutex
	queue []Event

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *subscriber) matches(e Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event predicate panicked", "panic", r, "task_id", e.TaskID)
			ok = false
		}
	}()
	return s.pred(e)
}

func (s *subscriber) enqueue(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			e := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(e)
		}
	}
}

func (s *subscriber) deliver(e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event subscriber panicked", "panic", r, "task_id", e.TaskID, "event", e.Type)
		}
	}()
	s.fn(e)
}
