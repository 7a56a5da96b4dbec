// Package core provides the central engine and configuration management for neb.
//
// The core package connects a Matrix home server with the registered
// plugins. It handles:
//
//   - Configuration loading and validation (from YAML or JSON files)
//   - The sync loop and its next-batch cursor
//   - Event dispatch to the membership, message and plugin handlers
//   - The HTTP webhook server that routes inbound calls to plugins
//   - Graceful shutdown
//
// # Example Configuration
//
//	url: https://matrix.example.org
//	user: "@neb:example.org"
//	token: ${NEB_TOKEN}
//	admins: ["@alice:example.org"]
//	webhook:
//	  addr: ":8500"
//	plugins:
//	  prometheus:
//	    enabled: true
//	    options:
//	      secret_token: ${PROM_TOKEN}
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keepmind9/neb/pkg/constants"
)

const (
	DefaultLogLevel = "info"
	DefaultDataDir  = "data"
)

// LoadConfig loads configuration from file and expands environment variables
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	// JSON documents are valid YAML, so one parser covers both formats
	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// WriteConfig serializes config as YAML to path, refusing to overwrite
func WriteConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Close()
}

// StarterConfig is what `neb init` writes
func StarterConfig() *Config {
	enabled := true
	return &Config{
		HomeserverURL: "https://matrix.example.org",
		UserID:        "@neb:example.org",
		AccessToken:   "${NEB_TOKEN}",
		Admins:        []string{"@admin:example.org"},
		CommandPrefix: constants.DefaultCommandPrefix,
		DataDir:       DefaultDataDir,
		Sync: SyncConfig{
			Timeout:    constants.DefaultSyncTimeout.String(),
			RetryDelay: constants.DefaultSyncRetryDelay.String(),
		},
		Webhook: WebhookConfig{
			Enabled: &enabled,
			Addr:    constants.DefaultWebhookAddr,
		},
		Plugins: map[string]PluginConfig{
			"b64":  {Enabled: true},
			"time": {Enabled: true},
			"prometheus": {
				Enabled: false,
				Options: map[string]any{"secret_token": "${PROM_TOKEN}"},
			},
		},
		Logging: LoggingConfig{
			Level:        DefaultLogLevel,
			EnableStdout: true,
		},
	}
}

// expandEnv replaces ${VAR_NAME} patterns with environment variable values
func expandEnv(input string) (string, error) {
	var missingVars []string

	result := os.Expand(input, func(key string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		missingVars = append(missingVars, key)
		return ""
	})

	if len(missingVars) > 0 {
		return "", fmt.Errorf("missing required environment variables: %s",
			strings.Join(missingVars, ", "))
	}

	return result, nil
}

// validateConfig fills defaults and rejects unusable configurations
func validateConfig(config *Config) error {
	if config.HomeserverURL == "" {
		return fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(config.HomeserverURL, "http://") && !strings.HasPrefix(config.HomeserverURL, "https://") {
		return fmt.Errorf("url must start with http:// or https:// (got %q)", config.HomeserverURL)
	}
	if config.UserID == "" {
		return fmt.Errorf("user is required")
	}
	if !strings.HasPrefix(config.UserID, "@") || !strings.Contains(config.UserID, ":") {
		return fmt.Errorf("user must be a full Matrix ID like @neb:example.org (got %q)", config.UserID)
	}
	if config.AccessToken == "" {
		return fmt.Errorf("token is required")
	}

	if config.CommandPrefix == "" {
		config.CommandPrefix = constants.DefaultCommandPrefix
	}
	if strings.ContainsAny(config.CommandPrefix, " \t\n") {
		return fmt.Errorf("command_prefix must not contain whitespace")
	}
	if config.DataDir == "" {
		config.DataDir = DefaultDataDir
	}
	config.DataDir = expandHome(config.DataDir)

	if config.Sync.Timeout == "" {
		config.Sync.Timeout = constants.DefaultSyncTimeout.String()
	}
	if config.Sync.RetryDelay == "" {
		config.Sync.RetryDelay = constants.DefaultSyncRetryDelay.String()
	}
	timeout, err := time.ParseDuration(config.Sync.Timeout)
	if err != nil {
		return fmt.Errorf("invalid sync.timeout: %w", err)
	}
	if timeout < 0 {
		return fmt.Errorf("sync.timeout must not be negative (got %v)", timeout)
	}
	retry, err := time.ParseDuration(config.Sync.RetryDelay)
	if err != nil {
		return fmt.Errorf("invalid sync.retry_delay: %w", err)
	}
	if retry <= 0 {
		return fmt.Errorf("sync.retry_delay must be positive (got %v)", retry)
	}

	if config.Webhook.Addr == "" {
		config.Webhook.Addr = constants.DefaultWebhookAddr
	}

	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = constants.DefaultLogMaxSize
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = constants.DefaultLogMaxBackups
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = constants.DefaultLogMaxAge
	}
	if config.Logging.File == "" {
		config.Logging.EnableStdout = true
	}
	config.Logging.File = expandHome(config.Logging.File)

	return nil
}

// expandHome expands a leading ~/ to the user's home directory
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// SyncTimeout returns the parsed long-poll timeout
func (c *Config) SyncTimeout() time.Duration {
	return parseDurationOr(c.Sync.Timeout, constants.DefaultSyncTimeout)
}

// SyncRetryDelay returns the parsed wait after a failed fetch
func (c *Config) SyncRetryDelay() time.Duration {
	return parseDurationOr(c.Sync.RetryDelay, constants.DefaultSyncRetryDelay)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// IsAdmin checks if a user is an admin
func (c *Config) IsAdmin(userID string) bool {
	for _, adminID := range c.Admins {
		if adminID == userID {
			return true
		}
	}
	return false
}

// EnabledPlugins returns the names of plugins switched on in the config
func (c *Config) EnabledPlugins() []string {
	var names []string
	for name, p := range c.Plugins {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// GetPluginConfig retrieves configuration for a specific plugin
func (c *Config) GetPluginConfig(name string) (PluginConfig, error) {
	p, exists := c.Plugins[name]
	if !exists {
		return PluginConfig{}, fmt.Errorf("plugin %s not found in configuration", name)
	}
	if !p.Enabled {
		return PluginConfig{}, fmt.Errorf("plugin %s is disabled", name)
	}
	return p, nil
}
