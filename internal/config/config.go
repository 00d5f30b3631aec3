// Package config loads the sidekick YAML configuration with environment
// overrides. A missing config file is not an error; every field has a
// usable default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sidekick configuration.
type Config struct {
	// Gemini gateway settings
	Gemini GeminiConfig `yaml:"gemini"`

	// Context assembly settings
	Context ContextConfig `yaml:"context"`

	// Session archive settings
	History HistoryConfig `yaml:"history"`

	// Workspace file enumeration
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// GeminiConfig configures the streaming gateway.
type GeminiConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// ContextConfig configures prompt context assembly.
type ContextConfig struct {
	// Max characters of each file baked into the prompt
	PerFileCap int `yaml:"per_file_cap"`
}

// HistoryConfig configures the session archive.
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// WorkspaceConfig configures file enumeration.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Gemini: GeminiConfig{
			Model:   "gemini-2.5-flash",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: "120s",
		},
		Context: ContextConfig{
			PerFileCap: 5000,
		},
		History: HistoryConfig{
			DatabasePath: filepath.Join(DataDir(), "sessions.db"),
		},
		Workspace: WorkspaceConfig{
			Root: ".",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(DataDir(), "sidekick.log"),
		},
	}
}

// DataDir is where sidekick keeps its database, secrets, and logs.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sidekick"
	}
	return filepath.Join(home, ".sidekick")
}

// DefaultPath is the config file location inside the data directory.
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if model := os.Getenv("SIDEKICK_MODEL"); model != "" {
		c.Gemini.Model = model
	}
	if url := os.Getenv("SIDEKICK_BASE_URL"); url != "" {
		c.Gemini.BaseURL = url
	}
	if path := os.Getenv("SIDEKICK_DB"); path != "" {
		c.History.DatabasePath = path
	}
	if root := os.Getenv("SIDEKICK_ROOT"); root != "" {
		c.Workspace.Root = root
	}
	if level := os.Getenv("SIDEKICK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetGeminiTimeout returns the gateway timeout as a duration.
func (c *Config) GetGeminiTimeout() time.Duration {
	d, err := time.ParseDuration(c.Gemini.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Gemini.Model == "" {
		return fmt.Errorf("gemini model not configured")
	}
	if c.Context.PerFileCap <= 0 {
		return fmt.Errorf("context per_file_cap must be positive, got %d", c.Context.PerFileCap)
	}
	return nil
}
