package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicies(t *testing.T) {
	policies := DefaultPolicies()
	require.Len(t, policies, len(Kinds))

	for _, k := range Kinds {
		p, ok := policies[k]
		require.True(t, ok, "missing policy for %s", k)
		assert.NoError(t, p.Validate(), "policy for %s", k)
		assert.Equal(t, k == KindCrawlJob, p.Pausable, "only crawl jobs pause")
	}

	assert.Less(t, policies[KindContentGeneration].BaseInterval, policies[KindCrawlJob].BaseInterval,
		"chat-adjacent tasks poll faster than crawls")
}

func TestPolicy_Validate(t *testing.T) {
	valid := Policy{BaseInterval: time.Second, MaxInterval: 4 * time.Second, MaxAttempts: 2, StaleAfter: time.Minute, RequestTimeout: time.Second}

	tests := []struct {
		name   string
		mutate func(*Policy)
		want   string
	}{
		{"valid", func(*Policy) {}, ""},
		{"zero base", func(p *Policy) { p.BaseInterval = 0 }, "base interval"},
		{"max below base", func(p *Policy) { p.MaxInterval = time.Millisecond }, "max interval"},
		{"no attempts", func(p *Policy) { p.MaxAttempts = 0 }, "max attempts"},
		{"no stale ceiling", func(p *Policy) { p.StaleAfter = 0 }, "stale ceiling"},
		{"negative runtime", func(p *Policy) { p.MaxRuntime = -time.Second }, "max runtime"},
		{"no request timeout", func(p *Policy) { p.RequestTimeout = 0 }, "request timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestPolicy_IsStale(t *testing.T) {
	p := Policy{StaleAfter: 30 * time.Second, MaxRuntime: 5 * time.Minute}
	tk := Task{StartedAt: epoch, UpdatedAt: epoch.Add(4 * time.Minute)}

	assert.False(t, p.IsStale(tk, epoch.Add(4*time.Minute+30*time.Second)))
	assert.True(t, p.IsStale(tk, epoch.Add(4*time.Minute+31*time.Second)), "no update for too long")

	tk.UpdatedAt = epoch.Add(5 * time.Minute)
	assert.True(t, p.IsStale(tk, epoch.Add(5*time.Minute+time.Second)), "runtime ceiling")

	p.MaxRuntime = 0
	assert.False(t, p.IsStale(tk, epoch.Add(5*time.Minute+time.Second)))
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"crawl_job", KindCrawlJob, false},
		{"Crawl-Job", KindCrawlJob, false},
		{" knowledge-graph-build ", KindKnowledgeGraphBuild, false},
		{"upload", "", true},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownKind)
			continue
		}
		require.NoError(t, err)
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
