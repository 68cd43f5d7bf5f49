package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  address: "[::]:50051"
  redis_url: "redis://127.0.0.1/"
  redis_timeout_ms: 200

default_policy:
  max_tokens: 10
  window_secs: 60

policies:
  - pattern: "user.login"
    type: "exact"
    max_tokens: 5
    window_secs: 60
    priority: 1
  - pattern: "user."
    type: "prefix"
    max_tokens: 3
    window_secs: 60
    priority: 10
  - pattern: "api."
    type: "prefix"
    max_tokens: 100
    window_secs: 60
    priority: 20
  - pattern: "api.v1."
    type: "prefix"
    max_tokens: 2
    window_secs: 60
    priority: 10
`

func writeTemp(t *testing.T, contents string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAndValidateSample(t *testing.T) {
	path := writeTemp(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "[::]:50051", cfg.Server.Address)
	assert.EqualValues(t, 200, cfg.Server.RedisTimeoutMS)
	assert.Len(t, cfg.Policies, 4)
}

func TestRoundTripResolvesPerSpecRules(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	set, err := cfg.ToPolicySet()
	require.NoError(t, err)

	cases := []struct {
		resource  string
		maxTokens int64
	}{
		{"user.login", 5},   // exact beats prefix regardless of priority
		{"user.signup", 3},  // falls to the "user." prefix
		{"api.v1.list", 100}, // higher-priority "api." prefix beats the longer "api.v1." one
		{"unrelated", 10},   // default
	}

	for _, c := range cases {
		got := set.Resolve(c.resource)
		assert.Equal(t, c.maxTokens, got.MaxTokens, "resource %q", c.resource)
	}
}

func TestValidateRejectsInvalidMaxTokens(t *testing.T) {
	cfg := &Root{
		Server:        Server{Address: "a", RedisTimeoutMS: 1},
		DefaultPolicy: DefaultPolicy{MaxTokens: -1, WindowSecs: 1},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroWindow(t *testing.T) {
	cfg := &Root{
		Server:        Server{Address: "a", RedisTimeoutMS: 1},
		DefaultPolicy: DefaultPolicy{MaxTokens: 1, WindowSecs: 0},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadRuleType(t *testing.T) {
	cfg := &Root{
		Server:        Server{Address: "a", RedisTimeoutMS: 1},
		DefaultPolicy: DefaultPolicy{MaxTokens: 1, WindowSecs: 1},
		Policies: []PolicyRule{
			{Pattern: "x", Type: "fuzzy", MaxTokens: 1, WindowSecs: 1},
		},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicatePolicy(t *testing.T) {
	cfg := &Root{
		Server:        Server{Address: "a", RedisTimeoutMS: 1},
		DefaultPolicy: DefaultPolicy{MaxTokens: 1, WindowSecs: 1},
		Policies: []PolicyRule{
			{Pattern: "x", Type: "exact", MaxTokens: 1, WindowSecs: 1},
			{Pattern: "x", Type: "exact", MaxTokens: 2, WindowSecs: 1},
		},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyRedisTimeout(t *testing.T) {
	cfg := &Root{
		Server:        Server{Address: "a", RedisTimeoutMS: 0},
		DefaultPolicy: DefaultPolicy{MaxTokens: 1, WindowSecs: 1},
	}
	assert.Error(t, cfg.Validate())
}
