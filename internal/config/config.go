// Package config loads svcgate configuration from a YAML file and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/svcgate/svcgate/internal/lockfile"
)

// Config represents the application configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Firewall FirewallConfig `yaml:"firewall"`
	Lock     LockConfig     `yaml:"lock"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServiceConfig identifies the one managed service.
type ServiceConfig struct {
	// Profile is the firewall's application profile name for the service.
	Profile string `yaml:"profile" env:"SVCGATE_PROFILE" env-default:"Transmission"`

	// Port is the service port, used when the backend does not recognize the
	// profile and for matching rule lines.
	Port int `yaml:"port" env:"SVCGATE_PORT" env-default:"51413"`

	// Protocol is the transport protocol for port rules.
	Protocol string `yaml:"protocol" env:"SVCGATE_PROTOCOL" env-default:"tcp"`
}

// FirewallConfig contains firewall backend settings.
type FirewallConfig struct {
	// Backend is the firewall engine to drive ("ufw", "iptables" or "nft").
	Backend string `yaml:"backend" env:"SVCGATE_FIREWALL_BACKEND" env-default:"ufw"`

	// Table is the nftables table name (nft backend only).
	Table string `yaml:"table" env:"SVCGATE_FIREWALL_TABLE" env-default:"svcgate"`

	// Chain is the chain name (iptables and nft backends).
	Chain string `yaml:"chain" env:"SVCGATE_FIREWALL_CHAIN"`
}

// LockConfig contains the mutation lock settings.
type LockConfig struct {
	// Path is the lock file location. Empty means the per-user default under
	// the system temp directory.
	Path string `yaml:"path" env:"SVCGATE_LOCK_PATH"`

	Budgets lockfile.Config `yaml:"budgets"`
}

// LoggingConfig contains logging-related configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" env:"SVCGATE_LOG_LEVEL" env-default:"warn"`

	// Format is the log format (json, text).
	Format string `yaml:"format" env:"SVCGATE_LOG_FORMAT" env-default:"text"`
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over config file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Check if config file exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := cleanenv.ReadConfig(configPath, cfg); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to access config file: %w", err)
		}
	}

	// Read environment variables (they override file values)
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment variables: %w", err)
	}

	return cfg, nil
}

// LockPath returns the configured lock file path, or the per-user default.
// The lock is a per-user singleton: one lock identity regardless of target
// service, since this design manages one service per invoking user.
func (c *Config) LockPath() string {
	if c.Lock.Path != "" {
		return c.Lock.Path
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("svcgate-%d.lock", os.Getuid()))
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Service.Profile == "" {
		return fmt.Errorf("service profile must be specified")
	}

	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid service port: %d", c.Service.Port)
	}

	validProtocols := map[string]bool{"tcp": true, "udp": true}
	if !validProtocols[c.Service.Protocol] {
		return fmt.Errorf("invalid protocol: %s (must be one of: tcp, udp)", c.Service.Protocol)
	}

	validBackends := map[string]bool{"ufw": true, "iptables": true, "nft": true}
	if !validBackends[c.Firewall.Backend] {
		return fmt.Errorf("invalid firewall backend: %s (must be one of: ufw, iptables, nft)", c.Firewall.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be one of: json, text)", c.Logging.Format)
	}

	return nil
}
