package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

const namespace = "knowhow_tasks"

// Prometheus exports engine measurements as Prometheus metrics.
type Prometheus struct {
	polls        *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	live         *prometheus.GaugeVec
}

var _ task.Observer = (*Prometheus)(nil)

// NewPrometheus creates the metrics and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Status requests by task kind and outcome.",
		}, []string{"kind", "outcome"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Status request latency by task kind.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Task state transitions.",
		}, []string{"kind", "from", "to"}),
		live: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live",
			Help:      "Tasks that are running or paused.",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{p.polls, p.pollDuration, p.transitions, p.live} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) PollCompleted(kind task.Kind, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.polls.WithLabelValues(string(kind), outcome).Inc()
	p.pollDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// Transitioned counts the change and tracks tasks between Running and a
// terminal state.
func (p *Prometheus) Transitioned(kind task.Kind, from, to task.State) {
	p.transitions.WithLabelValues(string(kind), string(from), string(to)).Inc()

	wasLive := from == task.StateRunning || from == task.StatePaused
	isLive := to == task.StateRunning || to == task.StatePaused
	switch {
	case isLive && !wasLive:
		p.live.WithLabelValues(string(kind)).Inc()
	case wasLive && !isLive:
		p.live.WithLabelValues(string(kind)).Dec()
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Multi fans observations out to several observers.
type Multi []task.Observer

func (m Multi) PollCompleted(kind task.Kind, d time.Duration, err error) {
	for _, o := range m {
		o.PollCompleted(kind, d, err)
	}
}

func (m Multi) Transitioned(kind task.Kind, from, to task.State) {
	for _, o := range m {
		o.Transitioned(kind, from, to)
	}
}
