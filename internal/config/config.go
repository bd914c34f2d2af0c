// Package config provides configuration management for leasegc.
// It handles loading and validation of configuration files, environment
// variables and command-line parameters.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/paveg/leasegc/internal/logging"
	"github.com/paveg/leasegc/internal/probe"
	"github.com/paveg/leasegc/internal/state"
)

// Static error variables to satisfy err113 linter
var (
	ErrEmptyStorePath       = errors.New("store path must not be empty")
	ErrInvalidProbeMethod   = errors.New("invalid probe method")
	ErrProbeTimeout         = errors.New("probe timeout must be positive")
	ErrLockTimeout          = errors.New("lock timeout must be positive")
	ErrBackupRetention      = errors.New("backup retention cannot be negative")
	ErrInvalidLogLevelValue = errors.New("invalid log level")
)

// Config represents the application configuration
type Config struct {
	Store    *StoreConfig `mapstructure:"store" yaml:"store" json:"store"`
	Probe    *ProbeConfig `mapstructure:"probe" yaml:"probe" json:"probe"`
	Lock     *LockConfig  `mapstructure:"lock" yaml:"lock" json:"lock"`
	LogLevel string       `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
}

// StoreConfig locates the lease document
type StoreConfig struct {
	Path            string        `mapstructure:"path" yaml:"path,omitempty" json:"path"`
	Backup          bool          `mapstructure:"backup" yaml:"backup" json:"backup"`
	BackupRetention time.Duration `mapstructure:"backup_retention" yaml:"backup_retention" json:"backup_retention"`
}

// ProbeConfig selects how process liveness is checked
type ProbeConfig struct {
	Method  string        `mapstructure:"method" yaml:"method" json:"method"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// LockConfig controls the lock serializing reconciliation passes
type LockConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Path    string        `mapstructure:"path" yaml:"path,omitempty" json:"path"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// MarshalJSON renders durations the way they are written in the config file
func (s StoreConfig) MarshalJSON() ([]byte, error) {
	type plain StoreConfig
	return json.Marshal(struct {
		plain
		BackupRetention string `json:"backup_retention"`
	}{plain(s), s.BackupRetention.String()})
}

// MarshalJSON renders durations the way they are written in the config file
func (p ProbeConfig) MarshalJSON() ([]byte, error) {
	type plain ProbeConfig
	return json.Marshal(struct {
		plain
		Timeout string `json:"timeout"`
	}{plain(p), p.Timeout.String()})
}

// MarshalJSON renders durations the way they are written in the config file
func (l LockConfig) MarshalJSON() ([]byte, error) {
	type plain LockConfig
	return json.Marshal(struct {
		plain
		Timeout string `json:"timeout"`
	}{plain(l), l.Timeout.String()})
}

// Portable returns a copy without machine-specific paths, suitable for
// writing a config file that falls back to the default locations
func (c *Config) Portable() *Config {
	store, probeCfg, lockCfg := *c.Store, *c.Probe, *c.Lock
	store.Path = ""
	lockCfg.Path = ""
	return &Config{Store: &store, Probe: &probeCfg, Lock: &lockCfg, LogLevel: c.LogLevel}
}

// EnvPrefix namespaces environment overrides, e.g. LEASEGC_PROBE_METHOD
const EnvPrefix = "LEASEGC"

// ConfigureEnv makes viper read LEASEGC_* environment variables for
// nested keys
func ConfigureEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load loads configuration from file and environment
func Load() (*Config, error) {
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.applyDefaults()

	if err := expandPaths(&config); err != nil {
		return nil, fmt.Errorf("failed to expand paths: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("store.path", state.DefaultPath())
	viper.SetDefault("store.backup", false)
	viper.SetDefault("store.backup_retention", "168h")

	viper.SetDefault("probe.method", probe.MethodNative)
	viper.SetDefault("probe.timeout", probe.DefaultTimeout.String())

	viper.SetDefault("lock.enabled", true)
	viper.SetDefault("lock.path", "")
	viper.SetDefault("lock.timeout", "10s")

	viper.SetDefault("log_level", "info")
}

// Default returns the default configuration
func Default() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

// applyDefaults fills sections missing from the decoded config and derives
// the lock path from the store path
func (c *Config) applyDefaults() {
	if c.Store == nil {
		c.Store = &StoreConfig{
			Path:            state.DefaultPath(),
			BackupRetention: 7 * 24 * time.Hour,
		}
	}
	if c.Probe == nil {
		c.Probe = &ProbeConfig{
			Method:  probe.MethodNative,
			Timeout: probe.DefaultTimeout,
		}
	}
	if c.Lock == nil {
		c.Lock = &LockConfig{
			Enabled: true,
			Timeout: 10 * time.Second,
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Lock.Path == "" && c.Store.Path != "" {
		c.Lock.Path = c.Store.Path + ".lock"
	}
}

// expandPaths expands relative paths to absolute paths
func expandPaths(config *Config) error {
	if config.Store.Path != "" {
		expanded, err := expandPath(config.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to expand store path: %w", err)
		}
		config.Store.Path = expanded
	}

	if config.Lock.Path != "" {
		expanded, err := expandPath(config.Lock.Path)
		if err != nil {
			return fmt.Errorf("failed to expand lock path: %w", err)
		}
		config.Lock.Path = expanded
	}

	return nil
}

// expandPath expands ~ to home directory and resolves relative paths
func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}

	if path[:1] == "~" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[1:])
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return abs, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Store == nil || c.Store.Path == "" {
		return ErrEmptyStorePath
	}
	if c.Store.BackupRetention < 0 {
		return ErrBackupRetention
	}

	if c.Probe != nil {
		switch c.Probe.Method {
		case probe.MethodNative, probe.MethodCommand:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidProbeMethod, c.Probe.Method)
		}
		if c.Probe.Timeout <= 0 {
			return ErrProbeTimeout
		}
	}

	if c.Lock != nil && c.Lock.Enabled && c.Lock.Timeout <= 0 {
		return ErrLockTimeout
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevelValue, c.LogLevel)
	}

	return nil
}
