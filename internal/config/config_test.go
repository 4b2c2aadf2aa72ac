package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")

	validConfig := `db_path: /data/warren.db
agents: 5
worker:
  capability: ["claude", "-p"]
  max_turns: 80
  verify_retries: 1
  short_sleep: 10s
supervisor:
  stall_threshold: 20m
`
	err := os.WriteFile(configPath, []byte(validConfig), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "/data/warren.db", config.DBPath)
	assert.Equal(t, 5, config.Agents)
	assert.Equal(t, []string{"claude", "-p"}, config.Worker.Capability)
	assert.Equal(t, 80, config.Worker.MaxTurns)
	assert.Equal(t, 1, config.Worker.VerifyRetries)
	assert.Equal(t, 10*time.Second, config.Worker.ShortSleep)
	assert.Equal(t, 20*time.Minute, config.Supervisor.StallThreshold)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "nonexistent.yml"))
	require.NoError(t, err)

	assert.Equal(t, ".warren/warren.db", config.DBPath)
	assert.Equal(t, 3, config.Agents)
	assert.Equal(t, "Bash,Read,Write,Edit,Glob,Grep", config.Worker.AllowedTools)
	assert.Equal(t, 50, config.Worker.MaxTurns)
	assert.Equal(t, 2, config.Worker.VerifyRetries)
	assert.Equal(t, 3, config.Worker.PushRetries)
	assert.Equal(t, "main", config.Worker.Mainline)
	assert.Equal(t, "origin", config.Worker.Remote)
	assert.Equal(t, ".warren/heartbeats", config.Supervisor.HeartbeatDir)
	assert.Equal(t, 15*time.Minute, config.Supervisor.StallThreshold)
}

func TestLoad_EnvOverridesDBPath(t *testing.T) {
	t.Setenv("WARREN_DB", "/tmp/override.db")

	config, err := Load(filepath.Join(t.TempDir(), "nonexistent.yml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", config.DBPath)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("worker: [not: a: map"), 0644))

	_, err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"negative agents", func(c *Config) { c.Agents = -1 }, "agents must be >= 1"},
		{"negative max_turns", func(c *Config) { c.Worker.MaxTurns = -5 }, "max_turns must be >= 1"},
		{"negative verify_retries", func(c *Config) { c.Worker.VerifyRetries = -1 }, "verify_retries must be >= 0"},
		{"negative push_retries", func(c *Config) { c.Worker.PushRetries = -1 }, "push_retries must be >= 1"},
		{"tiny stall threshold", func(c *Config) { c.Supervisor.StallThreshold = time.Second }, "stall_threshold must be >= 1m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
