package task

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// slot guards one task. Mutations of the same task are serialized on the
// slot; mutations of different tasks never contend.
type slot struct {
	mu      sync.Mutex
	task    Task
	evicted bool
}

// Registry is the single source of truth for task state.
// All methods are thread-safe and return copies.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]*slot
	order []string
	now   func() time.Time
}

// NewRegistry creates an empty registry. A nil now uses time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		slots: make(map[string]*slot),
		now:   now,
	}
}

// Create registers a new pending task under the server-assigned id.
func (r *Registry) Create(id string, kind Kind, payload any) (Task, error) {
	if id == "" {
		return Task{}, fmt.Errorf("%w: empty task id", ErrInvalidState)
	}
	now := r.now()
	t := Task{
		ID:        id,
		Kind:      kind,
		State:     StatePending,
		StartedAt: now,
		UpdatedAt: now,
		Payload:   payload,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slots[id]; ok {
		return Task{}, fmt.Errorf("%w: task %s already registered", ErrInvalidState, id)
	}
	r.slots[id] = &slot{task: t}
	r.order = append(r.order, id)
	return t.Clone(), nil
}

func (r *Registry) lookup(id string) (*slot, error) {
	r.mu.RLock()
	s, ok := r.slots[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id string) (Task, error) {
	s, err := r.lookup(id)
	if err != nil {
		return Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.task.Clone(), nil
}

// List returns snapshots in insertion order with live tasks first.
// With kinds given, only tasks of those kinds are returned.
func (r *Registry) List(kinds ...Kind) []Task {
	r.mu.RLock()
	slots := make([]*slot, 0, len(r.order))
	for _, id := range r.order {
		slots = append(slots, r.slots[id])
	}
	r.mu.RUnlock()

	// Slots are locked after the registry lock is released; Dismiss takes
	// them in the opposite order.
	live := make([]Task, 0, len(slots))
	var done []Task
	for _, s := range slots {
		s.mu.Lock()
		t, evicted := s.task.Clone(), s.evicted
		s.mu.Unlock()
		if evicted || (len(kinds) > 0 && !slices.Contains(kinds, t.Kind)) {
			continue
		}
		if t.IsLive() {
			live = append(live, t)
		} else {
			done = append(done, t)
		}
	}
	return append(live, done...)
}

// Update atomically applies mutate to the task. The mutator sees a private
// copy; if it returns an error the stored task is left untouched. The
// mutator runs while the task's slot is held, so it must not call back into
// the registry for the same id.
func (r *Registry) Update(id string, mutate func(*Task) error) (Task, error) {
	s, err := r.lookup(id)
	if err != nil {
		return Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := s.task.Clone()
	if err := mutate(&next); err != nil {
		return s.task.Clone(), err
	}
	next.ID, next.Kind = s.task.ID, s.task.Kind
	s.task = next
	return next.Clone(), nil
}

// Dismiss removes a terminal task.
func (r *Registry) Dismiss(id string) (Task, error) {
	s, err := r.lookup(id)
	if err != nil {
		return Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !s.task.State.IsTerminal() {
		return s.task.Clone(), fmt.Errorf("%w: cannot dismiss a %s task", ErrInvalidState, s.task.State)
	}
	s.evicted = true

	r.mu.Lock()
	delete(r.slots, id)
	r.order = slices.DeleteFunc(r.order, func(o string) bool { return o == id })
	r.mu.Unlock()

	return s.task.Clone(), nil
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
