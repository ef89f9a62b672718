package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models choreline.yml.
type Config struct {
	Defaults struct {
		// Timezone applies to members without an explicit timezone of
		// their own; rule evaluation happens in the creator's zone.
		Timezone     string `yaml:"timezone"`
		HistoryLimit int    `yaml:"history_limit"`
	} `yaml:"defaults"`
	Logging struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"logging"`
}

// LoadOptional returns the defaults when no config file exists.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Defaults.Timezone == "" {
		return fmt.Errorf("config.defaults.timezone is required")
	}
	if _, err := time.LoadLocation(c.Defaults.Timezone); err != nil {
		return fmt.Errorf("config.defaults.timezone: %w", err)
	}
	if c.Defaults.HistoryLimit <= 0 {
		return fmt.Errorf("config.defaults.history_limit must be positive")
	}
	return nil
}

// Location resolves the default evaluation timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Defaults.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "choreline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `defaults:
  timezone: UTC
  history_limit: 50

logging:
  level: info
  console: true
`
