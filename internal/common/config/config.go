// Package config provides configuration management for boardwatch.
// It supports loading configuration from environment variables, a config
// file, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for boardwatch.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Terminal TerminalConfig `mapstructure:"terminal"`
	Session  SessionConfig  `mapstructure:"session"`
	System   SystemConfig   `mapstructure:"system"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AuthConfig holds password protection configuration. When Enabled is
// false every token check passes and the login endpoint is a no-op.
type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	PasswordHash string `mapstructure:"passwordHash"` // SHA-512 hex of the login secret
	Secret       string `mapstructure:"secret"`       // HS256 signing key
	TokenExpiry  int    `mapstructure:"tokenExpiry"`  // in seconds
}

// TerminalConfig holds interactive shell configuration.
// When User is set the terminal runs `/bin/login -f <user>`; otherwise it
// runs Shell directly.
type TerminalConfig struct {
	User  string `mapstructure:"user"`
	Shell string `mapstructure:"shell"`
}

// SessionConfig holds page handler tuning.
type SessionConfig struct {
	SnapshotInterval int `mapstructure:"snapshotInterval"` // in seconds
}

// SystemConfig points the data providers at the host system.
type SystemConfig struct {
	// UpdateFile is read for the global update-available notice; a missing
	// file means no update.
	UpdateFile string `mapstructure:"updateFile"`
	// UpgradesFile holds the count of upgradable packages, maintained by an
	// external apt hook; a missing file reads as zero.
	UpgradesFile string `mapstructure:"upgradesFile"`
	// CatalogCommand is the executable behind the software page. It must
	// support `list`, `install <id>...` and `uninstall <id>...`.
	CatalogCommand string `mapstructure:"catalogCommand"`
	// SystemctlCommand is the service control binary.
	SystemctlCommand string `mapstructure:"systemctlCommand"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TokenExpiryDuration returns the token lifetime as a time.Duration.
func (a *AuthConfig) TokenExpiryDuration() time.Duration {
	return time.Duration(a.TokenExpiry) * time.Second
}

// SnapshotIntervalDuration returns the snapshot period as a time.Duration.
func (s *SessionConfig) SnapshotIntervalDuration() time.Duration {
	return time.Duration(s.SnapshotInterval) * time.Second
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5252)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.passwordHash", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.tokenExpiry", 3600) // 1 hour

	v.SetDefault("terminal.user", "")
	v.SetDefault("terminal.shell", "/bin/bash")

	v.SetDefault("session.snapshotInterval", 1)

	v.SetDefault("system.updateFile", "/run/boardwatch/.update_available")
	v.SetDefault("system.upgradesFile", "/run/boardwatch/.apt_updates")
	v.SetDefault("system.catalogCommand", "")
	v.SetDefault("system.systemctlCommand", "systemctl")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix BOARDWATCH_ with
// snake_case naming. The config file is config.yaml in the current
// directory or /etc/boardwatch/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BOARDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("auth.passwordHash", "BOARDWATCH_AUTH_PASSWORD_HASH")
	_ = v.BindEnv("auth.tokenExpiry", "BOARDWATCH_AUTH_TOKEN_EXPIRY")
	_ = v.BindEnv("session.snapshotInterval", "BOARDWATCH_SESSION_SNAPSHOT_INTERVAL")
	_ = v.BindEnv("system.updateFile", "BOARDWATCH_SYSTEM_UPDATE_FILE")
	_ = v.BindEnv("system.catalogCommand", "BOARDWATCH_SYSTEM_CATALOG_COMMAND")
	_ = v.BindEnv("system.systemctlCommand", "BOARDWATCH_SYSTEM_SYSTEMCTL_COMMAND")
	_ = v.BindEnv("logging.outputPath", "BOARDWATCH_LOGGING_OUTPUT_PATH")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/boardwatch/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.PasswordHash == "" {
			errs = append(errs, "auth.passwordHash is required when auth.enabled is true")
		}
		if cfg.Auth.Secret == "" {
			errs = append(errs, "auth.secret is required when auth.enabled is true")
		}
	}
	if cfg.Auth.TokenExpiry <= 0 {
		errs = append(errs, "auth.tokenExpiry must be positive")
	}

	if cfg.Terminal.Shell == "" {
		errs = append(errs, "terminal.shell must not be empty")
	}

	if cfg.Session.SnapshotInterval <= 0 {
		errs = append(errs, "session.snapshotInterval must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
