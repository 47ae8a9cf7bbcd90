package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/knowhow-portal/internal/task"
)

// policyOverride is one kind's entry in the policy file. Durations use Go
// syntax ("1.5s", "10m"); omitted fields keep the default.
type policyOverride struct {
	BaseInterval   string `yaml:"base_interval"`
	MaxInterval    string `yaml:"max_interval"`
	MaxAttempts    *int   `yaml:"max_attempts"`
	StaleAfter     string `yaml:"stale_after"`
	MaxRuntime     string `yaml:"max_runtime"`
	RequestTimeout string `yaml:"request_timeout"`
}

// LoadPolicies reads per-kind poll policy overrides from a YAML file keyed by
// task kind, merged over task.DefaultPolicies. An empty path returns the
// defaults.
//
//	crawl_job:
//	  base_interval: 5s
//	  max_runtime: 4h
func LoadPolicies(path string) (map[task.Kind]task.Policy, error) {
	policies := task.DefaultPolicies()
	if path == "" {
		return policies, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicies(data, policies)
}

// ParsePolicies applies YAML overrides to base and validates the result.
func ParsePolicies(data []byte, base map[task.Kind]task.Policy) (map[task.Kind]task.Policy, error) {
	var overrides map[string]policyOverride
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	for name, o := range overrides {
		kind, err := task.ParseKind(name)
		if err != nil {
			return nil, err
		}
		p := base[kind]

		fields := []struct {
			name string
			raw  string
			dst  *time.Duration
		}{
			{"base_interval", o.BaseInterval, &p.BaseInterval},
			{"max_interval", o.MaxInterval, &p.MaxInterval},
			{"stale_after", o.StaleAfter, &p.StaleAfter},
			{"max_runtime", o.MaxRuntime, &p.MaxRuntime},
			{"request_timeout", o.RequestTimeout, &p.RequestTimeout},
		}
		for _, f := range fields {
			if f.raw == "" {
				continue
			}
			d, err := time.ParseDuration(f.raw)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", kind, f.name, err)
			}
			*f.dst = d
		}
		if o.MaxAttempts != nil {
			p.MaxAttempts = *o.MaxAttempts
		}

		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		base[kind] = p
	}
	return base, nil
}
