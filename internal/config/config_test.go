package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.RepoPath)
	assert.Equal(t, "main", cfg.Branch)
	assert.Equal(t, 7, cfg.LookbackDays)
	assert.Equal(t, "claude", cfg.Agent.Bin)
	assert.Equal(t, 300, cfg.Agent.TimeoutSeconds)
	assert.Equal(t, 3, cfg.Agent.MaxRetries)
	assert.Equal(t, 2, cfg.Agent.MaxConcurrency)
	assert.False(t, cfg.Agent.CircuitBreaker)
	assert.Equal(t, 60, cfg.PollIntervalSeconds)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codeintel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
repo_path: /srv/repo
branch: develop
lookback_days: 3
agent:
  bin: fake-agent
  max_retries: 1
docs_root: /srv/docs
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/repo", cfg.RepoPath)
	assert.Equal(t, "develop", cfg.Branch)
	assert.Equal(t, 3, cfg.LookbackDays)
	assert.Equal(t, "fake-agent", cfg.Agent.Bin)
	assert.Equal(t, 1, cfg.Agent.MaxRetries)
	assert.Equal(t, "/srv/docs", cfg.DocsRoot)
	// Unset keys keep their defaults
	assert.Equal(t, 300, cfg.Agent.TimeoutSeconds)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codeintel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("repo_path: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRanges(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty repo path", func(c *Config) { c.RepoPath = "" }},
		{"empty branch", func(c *Config) { c.Branch = "" }},
		{"lookback too small", func(c *Config) { c.LookbackDays = 0 }},
		{"lookback too large", func(c *Config) { c.LookbackDays = 1000 }},
		{"empty agent bin", func(c *Config) { c.Agent.Bin = "" }},
		{"zero timeout", func(c *Config) { c.Agent.TimeoutSeconds = 0 }},
		{"negative retries", func(c *Config) { c.Agent.MaxRetries = -1 }},
		{"excess retries", func(c *Config) { c.Agent.MaxRetries = 11 }},
		{"zero concurrency", func(c *Config) { c.Agent.MaxConcurrency = 0 }},
		{"excess concurrency", func(c *Config) { c.Agent.MaxConcurrency = 16 }},
		{"empty docs root", func(c *Config) { c.DocsRoot = "" }},
		{"zero poll interval", func(c *Config) { c.PollIntervalSeconds = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{LookbackDays: 2, PollIntervalSeconds: 30}
	assert.Equal(t, 48*60*60, int(cfg.Lookback().Seconds()))
	assert.Equal(t, 30, int(cfg.PollInterval().Seconds()))
}
