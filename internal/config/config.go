// Package config handles Sphere configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/spheredev/sphere/internal/logicaldate"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/sphere/config.yaml, /etc/sphere/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sphere", "config.yaml"))
	}

	paths = append(paths, "/etc/sphere/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Sphere configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	LLM      LLMConfig      `yaml:"llm"`
	Storage  StorageConfig  `yaml:"storage"`
	Memory   MemoryConfig   `yaml:"memory"`
	Archive  ArchiveConfig  `yaml:"archive"`
	DataDir  string         `yaml:"data_dir" env:"SPHERE_DATA_DIR"`
	TimeZone string         `yaml:"timezone" env:"SPHERE_TZ"`
	LogLevel string         `yaml:"log_level" env:"SPHERE_LOG_LEVEL"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address" env:"SPHERE_LISTEN_ADDRESS"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port" env:"SPHERE_LISTEN_PORT"`
}

// LLMConfig defines the inference endpoint settings. The endpoint speaks
// the OpenAI chat-completions protocol (DeepSeek, OpenAI, compatible proxies).
type LLMConfig struct {
	BaseURL string `yaml:"base_url" env:"DEEPSEEK_BASE_URL"`
	APIKey  string `yaml:"api_key" env:"DEEPSEEK_API_KEY"`
	Model   string `yaml:"model" env:"SPHERE_MODEL"`
}

// StorageConfig defines the WebDAV store that backs memory documents,
// session snapshots, and archive records.
type StorageConfig struct {
	URL         string `yaml:"url" env:"INFINICLOUD_URL"`
	Username    string `yaml:"username" env:"INFINICLOUD_USER"`
	Password    string `yaml:"password" env:"INFINICLOUD_PASS"`
	MemoryDir   string `yaml:"memory_dir" env:"INFINICLOUD_MEMORY_DIR"`
	SessionsDir string `yaml:"sessions_dir" env:"INFINICLOUD_SESSIONS_DIR"`
	CurrentDir  string `yaml:"current_dir" env:"INFINICLOUD_CURRENT_DIR"`
}

// MemoryConfig tunes the tiered memory pipeline.
type MemoryConfig struct {
	// CompressAt is the turn count that forces a rolling-summary rebuild.
	CompressAt int `yaml:"compress_at"`
	// BootstrapAt is the turn count that triggers the first summary when
	// none exists yet. Must be below CompressAt.
	BootstrapAt int `yaml:"bootstrap_at"`
	// KeepRecent is the number of turns retained after compression.
	KeepRecent int `yaml:"keep_recent"`
}

// ArchiveConfig controls the daily archive job.
type ArchiveConfig struct {
	// Hour/Minute is the local wall-clock time of the daily run. It must
	// fall before the 04:00 logical-day rollover so the run targets the
	// day that is about to close.
	Hour   int `yaml:"hour"`
	Minute int `yaml:"minute"`
}

// Load reads configuration from a YAML file, expands environment
// variables in its text, and finally applies env-var overrides so a
// container deployment can run without a config file edit.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from environment variables alone.
// Used when no config file is present.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Archive.Hour < 0 || c.Archive.Hour >= logicaldate.RolloverHour || c.Archive.Minute < 0 || c.Archive.Minute > 59 {
		return fmt.Errorf("archive run time %02d:%02d must fall between 00:00 and the %02d:00 day rollover",
			c.Archive.Hour, c.Archive.Minute, logicaldate.RolloverHour)
	}
	if c.Memory.BootstrapAt >= c.Memory.CompressAt {
		return fmt.Errorf("memory bootstrap_at (%d) must be below compress_at (%d)",
			c.Memory.BootstrapAt, c.Memory.CompressAt)
	}
	return nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8000},
		LLM: LLMConfig{
			BaseURL: "https://api.deepseek.com",
			Model:   "deepseek-chat",
		},
		Storage: StorageConfig{
			MemoryDir:   "/obsidian/mem",
			SessionsDir: "/obsidian/sessions",
			CurrentDir:  "/obsidian/sessions/current",
		},
		Memory: MemoryConfig{
			CompressAt:  12,
			BootstrapAt: 6,
			KeepRecent:  4,
		},
		Archive: ArchiveConfig{
			Hour:   3,
			Minute: 30,
		},
		DataDir:  "data",
		TimeZone: "Asia/Shanghai",
	}
}
