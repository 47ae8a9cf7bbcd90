// Package metrics provides runtime statistics for the task engine.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

// PollMetrics holds aggregated status request metrics for one task kind.
type PollMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// PollSnapshot provides computed stats from raw metrics.
type PollSnapshot struct {
	Count       int64
	Errors      int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64
}

// Transition counts moves between two states.
type Transition struct {
	From  task.State
	To    task.State
	Count int64
}

// KindSnapshot is everything recorded for one task kind.
type KindSnapshot struct {
	Kind        task.Kind
	Polls       *PollSnapshot
	Transitions []Transition
}

// Snapshot represents the engine statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Kinds         []KindSnapshot
}

type transitionKey struct {
	from, to task.State
}

type kindMetrics struct {
	polls       PollMetrics
	transitions map[transitionKey]int64
}

// Collector aggregates in-memory task statistics. It implements
// task.Observer. All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	kinds     map[task.Kind]*kindMetrics
}

var _ task.Observer = (*Collector)(nil)

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		kinds:     make(map[task.Kind]*kindMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for a kind.
// Caller must hold write lock.
func (c *Collector) getOrCreate(kind task.Kind) *kindMetrics {
	m, ok := c.kinds[kind]
	if !ok {
		m = &kindMetrics{
			polls:       PollMetrics{MinTime: time.Duration(math.MaxInt64)},
			transitions: make(map[transitionKey]int64),
		}
		c.kinds[kind] = m
	}
	return m
}

// PollCompleted records the timing of one status request.
func (c *Collector) PollCompleted(kind task.Kind, d time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := &c.getOrCreate(kind).polls
	m.Count++
	m.TotalTime += d
	if err != nil {
		m.Errors++
	}

	if d < m.MinTime {
		m.MinTime = d
	}
	if d > m.MaxTime {
		m.MaxTime = d
	}
}

// Transitioned records a state change.
func (c *Collector) Transitioned(kind task.Kind, from, to task.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getOrCreate(kind).transitions[transitionKey{from, to}]++
}

// snapshotPolls creates a snapshot of poll metrics, returning nil if no data.
func snapshotPolls(m PollMetrics) *PollSnapshot {
	if m.Count == 0 {
		return nil
	}
	return &PollSnapshot{
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics, with kinds in
// task.Kinds order.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{UptimeSeconds: time.Since(c.startTime).Seconds()}
	for _, kind := range task.Kinds {
		m, ok := c.kinds[kind]
		if !ok {
			continue
		}

		ks := KindSnapshot{Kind: kind, Polls: snapshotPolls(m.polls)}
		for key, n := range m.transitions {
			ks.Transitions = append(ks.Transitions, Transition{From: key.from, To: key.to, Count: n})
		}
		sort.Slice(ks.Transitions, func(i, j int) bool {
			a, b := ks.Transitions[i], ks.Transitions[j]
			if a.From != b.From {
				return a.From < b.From
			}
			return a.To < b.To
		})
		snap.Kinds = append(snap.Kinds, ks)
	}
	return snap
}
