// Package config loads and validates the pipeline configuration.
//
// Configuration is read once at process start from a YAML file and handed
// to components as a plain struct. Components never consult viper or the
// environment themselves.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// AgentConfig configures the external code-analysis agent client
type AgentConfig struct {
	// Bin is the agent CLI binary to spawn (e.g. "claude")
	Bin string `mapstructure:"bin"`

	// Model identifier passed to the agent CLI
	Model string `mapstructure:"model"`

	// TimeoutSeconds bounds each invocation attempt
	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	// MaxRetries is the number of retries after the first attempt
	// for process-level failures. Range: 0-10
	MaxRetries int `mapstructure:"max_retries"`

	// MaxConcurrency caps simultaneous agent invocations.
	// The agent is the scarce resource; keep this small. Range: 1-8
	MaxConcurrency int `mapstructure:"max_concurrency"`

	// ScratchDir is where per-invocation workspaces are created.
	// Empty means the OS temp dir.
	ScratchDir string `mapstructure:"scratch_dir"`

	// CircuitBreaker enables fail-fast after repeated process failures
	CircuitBreaker bool `mapstructure:"circuit_breaker"`
}

// Config is the validated configuration consumed by the pipeline core
type Config struct {
	RepoPath     string `mapstructure:"repo_path"`
	Branch       string `mapstructure:"branch"`
	LookbackDays int    `mapstructure:"lookback_days"`

	Agent AgentConfig `mapstructure:"agent"`

	DocsRoot       string `mapstructure:"docs_root"`
	GraphStoreRoot string `mapstructure:"graph_store_root"`
	RunLogPath     string `mapstructure:"run_log_path"`

	// PollIntervalSeconds is how often the commit sensor re-checks the
	// repository when no filesystem event has arrived
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
}

// AgentTimeout returns the per-attempt timeout as a duration
func (c Config) AgentTimeout() time.Duration {
	return time.Duration(c.Agent.TimeoutSeconds) * time.Second
}

// PollInterval returns the sensor poll interval as a duration
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Lookback returns the change-detection window as a duration
func (c Config) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// Load reads configuration from the given YAML file. A missing file is not
// an error: defaults apply. The returned config is already validated.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("repo_path", ".")
	v.SetDefault("branch", "main")
	v.SetDefault("lookback_days", 7)
	v.SetDefault("agent.bin", "claude")
	v.SetDefault("agent.model", "claude-sonnet-4-20250514")
	v.SetDefault("agent.timeout_seconds", 300)
	v.SetDefault("agent.max_retries", 3)
	v.SetDefault("agent.max_concurrency", 2)
	v.SetDefault("agent.circuit_breaker", false)
	v.SetDefault("docs_root", "docs")
	v.SetDefault("graph_store_root", filepath.Join("data", "knowledge_graph"))
	v.SetDefault("run_log_path", filepath.Join("data", "runs.db"))
	v.SetDefault("poll_interval_seconds", 60)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and required fields
func (c Config) Validate() error {
	if c.RepoPath == "" {
		return fmt.Errorf("repo_path is required")
	}
	if c.Branch == "" {
		return fmt.Errorf("branch is required")
	}
	if c.LookbackDays < 1 || c.LookbackDays > 365 {
		return fmt.Errorf("lookback_days must be between 1 and 365 (got %d)", c.LookbackDays)
	}
	if c.Agent.Bin == "" {
		return fmt.Errorf("agent.bin is required")
	}
	if c.Agent.TimeoutSeconds < 1 {
		return fmt.Errorf("agent.timeout_seconds must be positive (got %d)", c.Agent.TimeoutSeconds)
	}
	if c.Agent.MaxRetries < 0 || c.Agent.MaxRetries > 10 {
		return fmt.Errorf("agent.max_retries must be between 0 and 10 (got %d)", c.Agent.MaxRetries)
	}
	if c.Agent.MaxConcurrency < 1 || c.Agent.MaxConcurrency > 8 {
		return fmt.Errorf("agent.max_concurrency must be between 1 and 8 (got %d)", c.Agent.MaxConcurrency)
	}
	if c.DocsRoot == "" {
		return fmt.Errorf("docs_root is required")
	}
	if c.GraphStoreRoot == "" {
		return fmt.Errorf("graph_store_root is required")
	}
	if c.RunLogPath == "" {
		return fmt.Errorf("run_log_path is required")
	}
	if c.PollIntervalSeconds < 1 {
		return fmt.Errorf("poll_interval_seconds must be positive (got %d)", c.PollIntervalSeconds)
	}
	return nil
}
