package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/keepmind9/neb/internal/core"
	"github.com/keepmind9/neb/internal/plugins"
	"github.com/keepmind9/neb/internal/plugins/prometheus"
)

var (
	validateConfigFile string
	validateShow       bool
	validateJSON       bool
)

// ValidationResult represents the validation result
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Config   string   `json:"config"`
	User     string   `json:"user,omitempty"`
	Plugins  []string `json:"plugins,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate neb configuration file",
	Long: `Validate the neb configuration file without connecting to the home server.

This command checks:
  - YAML syntax and environment variables
  - Required fields (url, user, token)
  - Durations and the command prefix
  - Plugin names and plugin options

Exit codes:
  0 - Configuration is valid
  1 - Configuration has errors`,
	Run: func(cmd *cobra.Command, args []string) {
		configFile := validateConfigFile
		if configFile == "" {
			configFile = findConfig()
		}

		if configFile == "" {
			fmt.Println("❌ No configuration file found")
			fmt.Println("\nSpecify a config file with --config or ensure one exists at:")
			for _, loc := range defaultConfigLocations() {
				fmt.Printf("  - %s\n", loc)
			}
			os.Exit(1)
		}

		result := validateFile(configFile)

		if validateShow && result.Valid {
			cfg, _ := core.LoadConfig(configFile)
			showConfig(configFile, cfg)
		}

		outputValidationResult(result, validateJSON)

		if !result.Valid {
			os.Exit(1)
		}
	},
}

func defaultConfigLocations() []string {
	return []string{
		"neb.yaml",
		filepath.Join(os.Getenv("HOME"), ".config/neb/neb.yaml"),
		"/etc/neb/neb.yaml",
	}
}

func findConfig() string {
	for _, loc := range defaultConfigLocations() {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// validateFile loads configFile and runs the checks LoadConfig does not
func validateFile(configFile string) ValidationResult {
	cfg, err := core.LoadConfig(configFile)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Config: configFile,
			Errors: []string{err.Error()},
		}
	}

	errs, warnings := validateConfigDetails(cfg)
	return ValidationResult{
		Valid:    len(errs) == 0,
		Config:   configFile,
		User:     cfg.UserID,
		Plugins:  cfg.EnabledPlugins(),
		Errors:   errs,
		Warnings: warnings,
	}
}

func showConfig(configFile string, cfg *core.Config) {
	fmt.Printf("✓ Configuration loaded: %s\n\n", configFile)
	fmt.Printf("Home server: %s\n", cfg.HomeserverURL)
	fmt.Printf("User: %s\n", cfg.UserID)
	fmt.Printf("Command prefix: %s\n", cfg.CommandPrefix)
	fmt.Printf("Data dir: %s\n", cfg.DataDir)

	webhook := "disabled"
	if cfg.Webhook.IsEnabled() {
		webhook = cfg.Webhook.Addr
	}
	fmt.Printf("Webhook: %s\n", webhook)

	fmt.Printf("\nAdmins (%d):\n", len(cfg.Admins))
	for _, admin := range cfg.Admins {
		fmt.Printf("  - %s\n", admin)
	}

	names := make([]string, 0, len(cfg.Plugins))
	for name := range cfg.Plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Printf("\nPlugins (%d):\n", len(names))
	for _, name := range names {
		status := "disabled"
		if cfg.Plugins[name].Enabled {
			status = "enabled"
		}
		fmt.Printf("  - %s: %s\n", name, status)
	}
	fmt.Println()
}

func outputValidationResult(result ValidationResult, jsonFormat bool) {
	if jsonFormat {
		output, err := json.Marshal(result)
		if err != nil {
			fmt.Printf("{\"error\": \"failed to marshal json: %v\"}\n", err)
			return
		}
		fmt.Println(string(output))
		return
	}

	if result.Valid {
		fmt.Println("✓ Configuration is valid")
		fmt.Printf("  - Config: %s\n", result.Config)
		fmt.Printf("  - User: %s\n", result.User)
		fmt.Printf("  - Plugins enabled: %d\n", len(result.Plugins))
		if len(result.Warnings) > 0 {
			fmt.Println("\n⚠️  Warnings:")
			for _, warning := range result.Warnings {
				fmt.Printf("  - %s\n", warning)
			}
		}
	} else {
		fmt.Println("❌ Configuration validation failed:")
		if len(result.Errors) > 0 {
			fmt.Println("\nErrors:")
			for _, errMsg := range result.Errors {
				fmt.Printf("  - %s\n", errMsg)
			}
		}
		if len(result.Warnings) > 0 {
			fmt.Println("\nWarnings:")
			for _, warning := range result.Warnings {
				fmt.Printf("  - %s\n", warning)
			}
		}
	}
}

// validateConfigDetails returns errors that would stop "neb start" and
// warnings about settings that work but are probably unintended
func validateConfigDetails(cfg *core.Config) (errs []string, warnings []string) {
	enabled := cfg.EnabledPlugins()
	for _, name := range enabled {
		if !plugins.Known(name) {
			errs = append(errs, fmt.Sprintf("Plugin '%s' is not a built-in plugin", name))
		}
	}

	if len(cfg.Admins) == 0 {
		warnings = append(warnings, "No admins configured - invites will be ignored and admin commands refused")
	}

	if len(enabled) == 0 {
		warnings = append(warnings, "No plugins are enabled - only help will answer")
	}

	if pc, err := cfg.GetPluginConfig(prometheus.Name); err == nil {
		if !cfg.Webhook.IsEnabled() {
			warnings = append(warnings, "Plugin 'prometheus' is enabled but the webhook server is disabled")
		}
		_, hasToken := pc.Options["secret_token"]
		_, hasHMAC := pc.Options["hmac_secret"]
		if !hasToken && !hasHMAC {
			warnings = append(warnings, "Plugin 'prometheus' has no secret_token or hmac_secret - anyone can post alerts")
		}
	}

	return errs, warnings
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "config", "c", "", "Configuration file path")
	validateCmd.Flags().BoolVar(&validateShow, "show", false, "Show full configuration details")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output in JSON format")
}
