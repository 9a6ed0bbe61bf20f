package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "Transmission", cfg.Service.Profile)
	assert.Equal(t, 51413, cfg.Service.Port)
	assert.Equal(t, "tcp", cfg.Service.Protocol)
	assert.Equal(t, "ufw", cfg.Firewall.Backend)
	assert.Equal(t, "warn", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `service:
  profile: OpenSSH
  port: 22
  protocol: tcp
firewall:
  backend: nft
lock:
  path: /tmp/custom.lock
  budgets:
    wait_attempts: 10
    wait_interval: 100ms
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "OpenSSH", cfg.Service.Profile)
	assert.Equal(t, 22, cfg.Service.Port)
	assert.Equal(t, "nft", cfg.Firewall.Backend)
	assert.Equal(t, "/tmp/custom.lock", cfg.LockPath())
	assert.Equal(t, 10, cfg.Lock.Budgets.WaitAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Lock.Budgets.WaitInterval)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ufw", cfg.Firewall.Backend)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("SVCGATE_PORT", "9091")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9091, cfg.Service.Port)
}

func TestDefaultLockPathIsPerUser(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	path := cfg.LockPath()
	assert.True(t, strings.HasPrefix(filepath.Base(path), "svcgate-"))
	assert.True(t, strings.HasSuffix(path, ".lock"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty profile", func(c *Config) { c.Service.Profile = "" }},
		{"port too low", func(c *Config) { c.Service.Port = 0 }},
		{"port too high", func(c *Config) { c.Service.Port = 70000 }},
		{"bad protocol", func(c *Config) { c.Service.Protocol = "icmp" }},
		{"bad backend", func(c *Config) { c.Firewall.Backend = "pf" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
