// ABOUTME: Tests for configuration loading, env expansion, and validation.
// ABOUTME: Covers defaults, YAML overrides, duration parsing, and bad inputs.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.PortAttempts)
	assert.Equal(t, "alex", cfg.Routing.DefaultAgent)
	assert.Equal(t, 5*time.Second, cfg.Routing.DispatchTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Sessions.Retention)
	assert.Equal(t, time.Hour, cfg.Sessions.PurgeInterval)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.SnapshotInterval)
	assert.NotEmpty(t, cfg.Sessions.SnapshotPath)
	assert.NotEmpty(t, cfg.Lock.Path)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, "alex", cfg.Routing.DefaultAgent)
}

func TestLoad_OverridesAndDurations(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "0.0.0.0"
  port: 9100
  port_attempts: 3
routing:
  default_agent: "hub"
  dispatch_timeout: "750ms"
sessions:
  snapshot_path: "/tmp/crew-sessions.json"
  retention: "48h"
  purge_interval: "30m"
  snapshot_interval: "1m"
lock:
  path: "/tmp/crew.lock"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Server.PortAttempts)
	assert.Equal(t, "hub", cfg.Routing.DefaultAgent)
	assert.Equal(t, 750*time.Millisecond, cfg.Routing.DispatchTimeout)
	assert.Equal(t, 48*time.Hour, cfg.Sessions.Retention)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.PurgeInterval)
	assert.Equal(t, time.Minute, cfg.Sessions.SnapshotInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9200
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "alex", cfg.Routing.DefaultAgent)
	assert.Equal(t, 5*time.Second, cfg.Routing.DispatchTimeout)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("CREW_TEST_LOCK", "/tmp/expanded.lock")

	path := writeConfig(t, `
lock:
  path: "${CREW_TEST_LOCK}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/expanded.lock", cfg.Lock.Path)
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
routing:
  dispatch_timeout: "five seconds"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch_timeout")
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: a: mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "out of range"},
		{"zero attempts", func(c *Config) { c.Server.PortAttempts = 0 }, "port_attempts"},
		{"missing default agent", func(c *Config) { c.Routing.DefaultAgent = "" }, "default_agent"},
		{"zero timeout", func(c *Config) { c.Routing.DispatchTimeout = 0 }, "dispatch_timeout"},
		{"missing snapshot path", func(c *Config) { c.Sessions.SnapshotPath = "" }, "snapshot_path"},
		{"missing lock path", func(c *Config) { c.Lock.Path = "" }, "lock.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
