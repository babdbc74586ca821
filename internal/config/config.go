package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for agentguard.
type Config struct {
	General      GeneralConfig      `json:"general"`
	Policy       PolicyConfig       `json:"policy"`
	Sandbox      SandboxConfig      `json:"sandbox"`
	Safety       SafetyConfig       `json:"safety"`
	Confirmation ConfirmationConfig `json:"confirmation"`
	Audit        AuditConfig        `json:"audit"`
	Metrics      MetricsConfig      `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel    string `json:"logLevel"` // "debug" | "info" | "warn" | "error"
	LogFile     string `json:"logFile,omitempty"`
	DefaultUser string `json:"defaultUser,omitempty"` // attributed user when the caller passes none
}

// PolicyConfig configures the policy engine on top of the built-in table.
type PolicyConfig struct {
	PackDir string `json:"packDir,omitempty"` // directory of YAML policy packs, loaded at startup
}

// SandboxConfig configures command validation and execution bounds.
type SandboxConfig struct {
	AllowedCommands      []string `json:"allowedCommands,omitempty"` // nil = built-in allowlist, [] = allowlist off
	ExtraBlockedCommands []string `json:"extraBlockedCommands,omitempty"`
	AllowedPaths         []string `json:"allowedPaths,omitempty"`
	ExtraBlockedPaths    []string `json:"extraBlockedPaths,omitempty"`
	BlockedPathGlobs     []string `json:"blockedPathGlobs,omitempty"`
	ExtraPatterns        []string `json:"extraDangerousPatterns,omitempty"`
	MaxExecutionTimeSecs int      `json:"maxExecutionTimeSeconds"`
	MaxOutputBytes       int      `json:"maxOutputBytes"`
}

// SafetyConfig configures throttling, the concurrency ceiling, and history.
type SafetyConfig struct {
	CommandIntervalMS     int     `json:"commandIntervalMs"`
	APIIntervalMS         int     `json:"apiIntervalMs"`
	MaxConcurrentCommands int     `json:"maxConcurrentCommands"`
	HistoryCapacity       int     `json:"historyCapacity"`
	MaxMemoryMB           uint64  `json:"maxMemoryMb"`
	MaxCPUPercent         float64 `json:"maxCpuPercent"`
}

type ConfirmationConfig struct {
	Required bool `json:"required"`
}

type AuditConfig struct {
	Enabled           bool   `json:"enabled"`
	DBPath            string `json:"dbPath"`
	StructuredLogging bool   `json:"structuredLogging"` // JSON lines instead of human-readable export
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// DefaultConfigDir returns the default config directory (~/.agentguard).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentguard"
	}
	return filepath.Join(home, ".agentguard")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Policy.PackDir = ExpandPath(cfg.Policy.PackDir)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Sandbox.MaxExecutionTimeSecs < 1 {
		errs = append(errs, "sandbox.maxExecutionTimeSeconds must be >= 1")
	}
	if cfg.Sandbox.MaxOutputBytes < 1024 {
		errs = append(errs, "sandbox.maxOutputBytes must be >= 1024")
	}

	if cfg.Safety.CommandIntervalMS < 0 {
		errs = append(errs, "safety.commandIntervalMs must be >= 0")
	}
	if cfg.Safety.APIIntervalMS < 0 {
		errs = append(errs, "safety.apiIntervalMs must be >= 0")
	}
	if cfg.Safety.MaxConcurrentCommands < 1 || cfg.Safety.MaxConcurrentCommands > 100 {
		errs = append(errs, "safety.maxConcurrentCommands must be between 1 and 100")
	}
	if cfg.Safety.HistoryCapacity < 1 {
		errs = append(errs, "safety.historyCapacity must be >= 1")
	}
	if cfg.Safety.MaxCPUPercent <= 0 || cfg.Safety.MaxCPUPercent > 100 {
		errs = append(errs, "safety.maxCpuPercent must be between 0 and 100")
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}

	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		errs = append(errs, "metrics.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
