package task

import (
	"fmt"
	"time"
)

// Policy holds the per-kind polling parameters.
type Policy struct {
	// BaseInterval is the delay between polls after a successful response.
	BaseInterval time.Duration `json:"baseInterval"`
	// MaxInterval caps the doubled delay after consecutive failures.
	MaxInterval time.Duration `json:"maxInterval"`
	// MaxAttempts is the number of consecutive poll failures that fails
	// the task as unreachable.
	MaxAttempts int `json:"maxAttempts"`
	// StaleAfter fails the task when no status response arrived for this long.
	StaleAfter time.Duration `json:"staleAfter"`
	// MaxRuntime fails the task when it has been live this long. Zero disables it.
	MaxRuntime time.Duration `json:"maxRuntime"`
	// RequestTimeout bounds a single status request.
	RequestTimeout time.Duration `json:"requestTimeout"`
	// Pausable allows UserPause and UserResume.
	Pausable bool `json:"pausable"`
}

// DefaultPolicies returns the built-in policy for every kind. Chat-adjacent
// kinds poll fast; crawls and graph builds are expected to run for minutes.
func DefaultPolicies() map[Kind]Policy {
	return map[Kind]Policy{
		KindCrawlJob: {
			BaseInterval:   3 * time.Second,
			MaxInterval:    30 * time.Second,
			MaxAttempts:    5,
			StaleAfter:     5 * time.Minute,
			MaxRuntime:     2 * time.Hour,
			RequestTimeout: 10 * time.Second,
			Pausable:       true,
		},
		KindDocumentUpload: {
			BaseInterval:   time.Second,
			MaxInterval:    15 * time.Second,
			MaxAttempts:    5,
			StaleAfter:     2 * time.Minute,
			MaxRuntime:     30 * time.Minute,
			RequestTimeout: 10 * time.Second,
		},
		KindSessionDocument: {
			BaseInterval:   500 * time.Millisecond,
			MaxInterval:    5 * time.Second,
			MaxAttempts:    4,
			StaleAfter:     time.Minute,
			MaxRuntime:     10 * time.Minute,
			RequestTimeout: 5 * time.Second,
		},
		KindContentGeneration: {
			BaseInterval:   500 * time.Millisecond,
			MaxInterval:    8 * time.Second,
			MaxAttempts:    4,
			StaleAfter:     90 * time.Second,
			MaxRuntime:     15 * time.Minute,
			RequestTimeout: 5 * time.Second,
		},
		KindKnowledgeGraphBuild: {
			BaseInterval:   2 * time.Second,
			MaxInterval:    30 * time.Second,
			MaxAttempts:    5,
			StaleAfter:     10 * time.Minute,
			MaxRuntime:     time.Hour,
			RequestTimeout: 10 * time.Second,
		},
	}
}

// Validate checks that the policy can drive a poller.
func (p Policy) Validate() error {
	switch {
	case p.BaseInterval <= 0:
		return fmt.Errorf("base interval must be positive, got %s", p.BaseInterval)
	case p.MaxInterval < p.BaseInterval:
		return fmt.Errorf("max interval %s is below base interval %s", p.MaxInterval, p.BaseInterval)
	case p.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	case p.StaleAfter <= 0:
		return fmt.Errorf("stale ceiling must be positive, got %s", p.StaleAfter)
	case p.MaxRuntime < 0:
		return fmt.Errorf("max runtime must not be negative, got %s", p.MaxRuntime)
	case p.RequestTimeout <= 0:
		return fmt.Errorf("request timeout must be positive, got %s", p.RequestTimeout)
	}
	return nil
}

// Backoff returns the next interval after a failed poll.
func (p Policy) Backoff(current time.Duration) time.Duration {
	if current < p.BaseInterval {
		current = p.BaseInterval
	}
	return min(current*2, p.MaxInterval)
}

// IsStale reports whether t has exceeded either time ceiling at now.
func (p Policy) IsStale(t Task, now time.Time) bool {
	if now.Sub(t.UpdatedAt) > p.StaleAfter {
		return true
	}
	return p.MaxRuntime > 0 && now.Sub(t.StartedAt) > p.MaxRuntime
}
