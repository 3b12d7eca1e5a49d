package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the full server configuration. Values come from an
// optional YAML file and can be overridden by environment variables
// (PORT, DATABASE_PATH, JWT_SECRET, IMPORT_CONCURRENCY).
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Import   ImportConfig   `yaml:"import"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ImportConfig tunes the import pipeline: how many (account, symbol)
// groups run in parallel, how persistence retries behave, and the
// deadline each individual storage call gets.
type ImportConfig struct {
	Concurrency      int `yaml:"concurrency"`
	RetryAttempts    int `yaml:"retry_attempts"`
	RetryDelayMs     int `yaml:"retry_delay_ms"`
	StorageTimeoutMs int `yaml:"storage_timeout_ms"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Path: "fillbook.db"},
		Auth:     AuthConfig{JWTSecret: "fillbook-secret-key"},
		Import: ImportConfig{
			Concurrency:      4,
			RetryAttempts:    3,
			RetryDelayMs:     50,
			StorageTimeoutMs: 5000,
		},
	}
}

// Load reads the configuration file at path (when non-empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("IMPORT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Import.Concurrency = n
		}
	}
}

// Validate checks that the configuration can support a batch import.
// A missing storage path is fatal: no import work may start without it.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	if c.Import.Concurrency < 1 {
		return errors.New("import concurrency must be at least 1")
	}
	if c.Import.RetryAttempts < 1 {
		return errors.New("retry attempts must be at least 1")
	}
	if c.Import.StorageTimeoutMs < 1 {
		return errors.New("storage timeout must be at least 1ms")
	}
	return nil
}
