// Package config loads and validates the JSON configuration at
// ~/.termbot/config.json.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for TermBot.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Agent     AgentConfig               `json:"agent"`
	Memory    MemoryConfig              `json:"memory"`
	Security  SecurityConfig            `json:"security"`
	Tools     ToolsConfig               `json:"tools"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	Workspace       string `json:"workspace"`
	LogLevel        string `json:"logLevel"`
	LogFile         string `json:"logFile,omitempty"`
	DefaultProvider string `json:"defaultProvider"`
	SystemPromptExtra string `json:"systemPromptExtra,omitempty"`
}

type ProviderConfig struct {
	Enabled         bool   `json:"enabled"`
	APIBase         string `json:"apiBase,omitempty"`
	APIKey          string `json:"apiKey,omitempty"`
	DefaultModel    string `json:"defaultModel,omitempty"`
	RateLimitPerMin int    `json:"rateLimitPerMinute,omitempty"`
	RateLimitBurst  int    `json:"rateLimitBurst,omitempty"`
}

// AgentConfig bounds the conversation loop.
type AgentConfig struct {
	MaxToolRounds    int `json:"maxToolRounds"`
	MaxParallelTools int `json:"maxParallelTools"`
	MaxContextTokens int `json:"maxContextTokens"`
	RetryAttempts    int `json:"retryAttempts"`
}

type MemoryConfig struct {
	Enabled                   bool   `json:"enabled"`
	DBPath                    string `json:"dbPath"`
	MaxHistoryPerConversation int    `json:"maxHistoryPerConversation"`
	RetentionDays             int    `json:"retentionDays"`
}

type SecurityConfig struct {
	DefaultPolicy         string   `json:"defaultPolicy"` // "allow" | "deny" | "ask"
	Blacklist             []string `json:"blacklist"`
	Whitelist             []string `json:"whitelist"`
	ConfirmPatterns       []string `json:"confirmPatterns"`
	ConfirmTimeoutSeconds int      `json:"confirmTimeoutSeconds"`
	AuditLog              bool     `json:"auditLog"`
}

type ToolsConfig struct {
	Shell     ShellToolConfig   `json:"shell"`
	Browser   BrowserToolConfig `json:"browser"`
	Discovery DiscoveryConfig   `json:"discovery"`
}

type ShellToolConfig struct {
	Timeout        int `json:"timeout"`
	MaxOutputBytes int `json:"maxOutputBytes"`
}

type BrowserToolConfig struct {
	Enabled    bool   `json:"enabled"`
	Headless   bool   `json:"headless"`
	ProfileDir string `json:"profileDir,omitempty"`
}

// DiscoveryConfig points at a directory holding manifest.json plus YAML tool
// descriptors for external subprocess tools.
type DiscoveryConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.termbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termbot"
	}
	return filepath.Join(home, ".termbot")
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

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Tools.Discovery.Dir = ExpandPath(cfg.Tools.Discovery.Dir)
	cfg.Tools.Browser.ProfileDir = ExpandPath(cfg.Tools.Browser.ProfileDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
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
			return match
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

	if cfg.Agent.MaxToolRounds < 1 || cfg.Agent.MaxToolRounds > 200 {
		errs = append(errs, "agent.maxToolRounds must be between 1 and 200")
	}
	if cfg.Agent.MaxParallelTools < 1 || cfg.Agent.MaxParallelTools > 64 {
		errs = append(errs, "agent.maxParallelTools must be between 1 and 64")
	}
	if cfg.Agent.MaxContextTokens < 256 {
		errs = append(errs, "agent.maxContextTokens must be >= 256")
	}
	if cfg.Agent.RetryAttempts < 1 || cfg.Agent.RetryAttempts > 10 {
		errs = append(errs, "agent.retryAttempts must be between 1 and 10")
	}
	if cfg.Memory.MaxHistoryPerConversation < 1 {
		errs = append(errs, "memory.maxHistoryPerConversation must be >= 1")
	}
	if cfg.Memory.RetentionDays < 1 {
		errs = append(errs, "memory.retentionDays must be >= 1")
	}
	if cfg.Tools.Shell.Timeout < 1 {
		errs = append(errs, "tools.shell.timeout must be >= 1")
	}
	switch cfg.Security.DefaultPolicy {
	case "allow", "deny", "ask":
	default:
		errs = append(errs, "security.defaultPolicy must be one of: allow, deny, ask")
	}
	if cfg.General.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
		}
	}
	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.APIBase == "" && name != "ollama" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
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
