package core

// Config represents the complete neb configuration structure
type Config struct {
	HomeserverURL string                  `yaml:"url"`
	UserID        string                  `yaml:"user"`
	AccessToken   string                  `yaml:"token"`
	Admins        []string                `yaml:"admins"`
	CommandPrefix string                  `yaml:"command_prefix"`
	DataDir       string                  `yaml:"data_dir"`
	Sync          SyncConfig              `yaml:"sync"`
	Webhook       WebhookConfig           `yaml:"webhook"`
	Plugins       map[string]PluginConfig `yaml:"plugins"`
	Logging       LoggingConfig           `yaml:"logging"`
}

// SyncConfig controls the long-poll loop
type SyncConfig struct {
	Timeout    string `yaml:"timeout"`     // Long-poll timeout (default: 30s)
	RetryDelay string `yaml:"retry_delay"` // Wait after a failed fetch (default: 5s)
}

// WebhookConfig represents the inbound webhook HTTP server
type WebhookConfig struct {
	Enabled *bool  `yaml:"enabled"` // Default: true
	Addr    string `yaml:"addr"`    // Listen address (default: ":8500")
}

// IsEnabled reports whether the webhook server should run
func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// PluginConfig represents one plugin's section
type PluginConfig struct {
	Enabled bool           `yaml:"enabled"`
	Options map[string]any `yaml:"options"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`         // debug, info, warn, error
	File         string `yaml:"file"`          // Log file path
	MaxSize      int    `yaml:"max_size"`      // Single file max size in MB (default: 20)
	MaxBackups   int    `yaml:"max_backups"`   // Number of backups to keep (default: 5)
	MaxAge       int    `yaml:"max_age"`       // Maximum days to retain (default: 30)
	Compress     bool   `yaml:"compress"`      // Whether to compress old logs
	EnableStdout bool   `yaml:"enable_stdout"` // Also output to stdout, forced on when no file is set
}
