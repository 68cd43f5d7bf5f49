// Package config parses the YAML startup configuration and turns it into
// an immutable policy.Set, the only thing the core needs from it. Parsing
// and validation live here, out of the core, per §1.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arcflow/ratelimitd/policy"
)

// Server holds the address and store connection parameters.
type Server struct {
	Address        string `yaml:"address"`
	RedisURL       string `yaml:"redis_url"`
	RedisTimeoutMS int64  `yaml:"redis_timeout_ms"`
}

// DefaultPolicy is the policy applied when no rule matches a resource.
type DefaultPolicy struct {
	MaxTokens  int64 `yaml:"max_tokens"`
	WindowSecs int64 `yaml:"window_secs"`
}

// PolicyRule is one entry in the policies list.
type PolicyRule struct {
	Pattern    string `yaml:"pattern"`
	Type       string `yaml:"type"`
	MaxTokens  int64  `yaml:"max_tokens"`
	WindowSecs int64  `yaml:"window_secs"`
	Priority   int    `yaml:"priority"`
}

// Root is the top-level shape of the config file.
type Root struct {
	Server        Server        `yaml:"server"`
	DefaultPolicy DefaultPolicy `yaml:"default_policy"`
	Policies      []PolicyRule  `yaml:"policies"`
}

// Load reads and parses the YAML file at path. It does not validate; call
// Validate before trusting the result.
func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the rules from §6: max_tokens >= 0, window_secs >= 1,
// redis_timeout_ms >= 1, pattern non-empty, type in {exact, prefix}, and no
// duplicate (type, pattern) pairs. It returns the first violation found.
func (r *Root) Validate() error {
	if r.Server.RedisTimeoutMS < 1 {
		return fmt.Errorf("config: server.redis_timeout_ms must be >= 1, got %d", r.Server.RedisTimeoutMS)
	}
	if r.Server.Address == "" {
		return fmt.Errorf("config: server.address must be set")
	}
	if r.DefaultPolicy.MaxTokens < 0 {
		return fmt.Errorf("config: default_policy.max_tokens must be >= 0, got %d", r.DefaultPolicy.MaxTokens)
	}
	if r.DefaultPolicy.WindowSecs < 1 {
		return fmt.Errorf("config: default_policy.window_secs must be >= 1, got %d", r.DefaultPolicy.WindowSecs)
	}

	seen := make(map[string]struct{}, len(r.Policies))
	for i, p := range r.Policies {
		if p.Pattern == "" {
			return fmt.Errorf("config: policies[%d].pattern must be non-empty", i)
		}
		if p.Type != "exact" && p.Type != "prefix" {
			return fmt.Errorf("config: policies[%d].type must be \"exact\" or \"prefix\", got %q", i, p.Type)
		}
		if p.MaxTokens < 0 {
			return fmt.Errorf("config: policies[%d].max_tokens must be >= 0, got %d", i, p.MaxTokens)
		}
		if p.WindowSecs < 1 {
			return fmt.Errorf("config: policies[%d].window_secs must be >= 1, got %d", i, p.WindowSecs)
		}

		dedupeKey := p.Type + "\x00" + p.Pattern
		if _, dup := seen[dedupeKey]; dup {
			return fmt.Errorf("config: duplicate policy (%s, %q)", p.Type, p.Pattern)
		}
		seen[dedupeKey] = struct{}{}
	}
	return nil
}

// ToPolicySet converts the validated config into an immutable policy.Set.
func (r *Root) ToPolicySet() (*policy.Set, error) {
	def := policy.Policy{
		Pattern:   "*",
		Kind:      policy.Exact,
		MaxTokens: r.DefaultPolicy.MaxTokens,
		Window:    r.DefaultPolicy.WindowSecs,
		Priority:  0,
	}

	rules := make([]policy.Policy, 0, len(r.Policies))
	for _, p := range r.Policies {
		kind := policy.Exact
		if p.Type == "prefix" {
			kind = policy.Prefix
		}
		rules = append(rules, policy.Policy{
			Pattern:   p.Pattern,
			Kind:      kind,
			MaxTokens: p.MaxTokens,
			Window:    p.WindowSecs,
			Priority:  p.Priority,
		})
	}

	set, err := policy.Build(def, rules)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return set, nil
}
