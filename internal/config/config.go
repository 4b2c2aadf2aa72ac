// Package config loads and validates the .warren/config.yml shared by the
// warren CLI, kit workers, and the warden supervisor.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level .warren/config.yml configuration.
// Validate applies defaults, so a minimal or empty file is usable as-is.
type Config struct {
	// DBPath is the ticket database location. Overridden by WARREN_DB.
	DBPath string `yaml:"db_path,omitempty"`

	// Agents is the number of kit workers the fleet runs.
	Agents int `yaml:"agents,omitempty"`

	Worker     WorkerConfig     `yaml:"worker,omitempty"`
	Supervisor SupervisorConfig `yaml:"supervisor,omitempty"`
}

// WorkerConfig specifies the kit worker loop behavior.
type WorkerConfig struct {
	// Capability is the command invoked to execute a ticket. The first
	// element is the binary, the rest are fixed arguments.
	Capability []string `yaml:"capability,omitempty"`

	// AllowedTools is the comma-separated tool allowlist passed to the
	// capability.
	AllowedTools string `yaml:"allowed_tools,omitempty"`

	// MaxTurns bounds a single capability invocation by step count.
	MaxTurns int `yaml:"max_turns,omitempty"`

	// VerifyRetries bounds fix-mode re-invocations after a failed
	// verification gate.
	VerifyRetries int `yaml:"verify_retries,omitempty"`

	// PushRetries bounds fetch-merge-retry cycles after a rejected push.
	PushRetries int `yaml:"push_retries,omitempty"`

	// ShortSleep is the idle wait when the queue is empty but work exists
	// elsewhere; LongSleep follows a proposal round.
	ShortSleep time.Duration `yaml:"short_sleep,omitempty"`
	LongSleep  time.Duration `yaml:"long_sleep,omitempty"`

	// RepoDir is the worker's private working copy. Mainline and Remote
	// name the integration branch and the shared origin.
	RepoDir  string `yaml:"repo_dir,omitempty"`
	Mainline string `yaml:"mainline,omitempty"`
	Remote   string `yaml:"remote,omitempty"`
}

// SupervisorConfig specifies warden's stall detection behavior.
type SupervisorConfig struct {
	// HeartbeatDir holds one heartbeat file per worker.
	HeartbeatDir string `yaml:"heartbeat_dir,omitempty"`

	// StallThreshold is how stale a heartbeat may be before the worker is
	// considered stalled and signalled.
	StallThreshold time.Duration `yaml:"stall_threshold,omitempty"`
}

// Validate performs validation on the configuration and applies defaults for
// unset fields.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		c.DBPath = ".warren/warren.db"
	}
	if c.Agents == 0 {
		c.Agents = 3
	}
	if c.Agents < 1 {
		return fmt.Errorf("agents must be >= 1, got %d", c.Agents)
	}

	w := &c.Worker
	if len(w.Capability) == 0 {
		w.Capability = []string{"claude", "-p"}
	}
	if w.AllowedTools == "" {
		w.AllowedTools = "Bash,Read,Write,Edit,Glob,Grep"
	}
	if w.MaxTurns == 0 {
		w.MaxTurns = 50
	}
	if w.MaxTurns < 1 {
		return fmt.Errorf("worker.max_turns must be >= 1, got %d", w.MaxTurns)
	}
	if w.VerifyRetries == 0 {
		w.VerifyRetries = 2
	}
	if w.VerifyRetries < 0 {
		return fmt.Errorf("worker.verify_retries must be >= 0, got %d", w.VerifyRetries)
	}
	if w.PushRetries == 0 {
		w.PushRetries = 3
	}
	if w.PushRetries < 1 {
		return fmt.Errorf("worker.push_retries must be >= 1, got %d", w.PushRetries)
	}
	if w.ShortSleep == 0 {
		w.ShortSleep = 30 * time.Second
	}
	if w.LongSleep == 0 {
		w.LongSleep = 10 * time.Minute
	}
	if w.RepoDir == "" {
		w.RepoDir = "."
	}
	if w.Mainline == "" {
		w.Mainline = "main"
	}
	if w.Remote == "" {
		w.Remote = "origin"
	}

	s := &c.Supervisor
	if s.HeartbeatDir == "" {
		s.HeartbeatDir = ".warren/heartbeats"
	}
	if s.StallThreshold == 0 {
		s.StallThreshold = 15 * time.Minute
	}
	if s.StallThreshold < time.Minute {
		return fmt.Errorf("supervisor.stall_threshold must be >= 1m, got %s", s.StallThreshold)
	}

	return nil
}

// DefaultPath is where Load looks when no explicit path is given.
const DefaultPath = ".warren/config.yml"

// Load reads and validates config from the specified path, or DefaultPath
// when path is empty. A missing file yields the all-defaults configuration.
// The WARREN_DB environment variable overrides db_path either way.
func Load(path string) (*Config, error) {
	var config Config

	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if db := os.Getenv("WARREN_DB"); db != "" {
		config.DBPath = db
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}
