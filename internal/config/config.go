package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tabsync/tabsync/internal/db"
	"github.com/tabsync/tabsync/internal/stats"
	"github.com/tabsync/tabsync/internal/trigger"
	"github.com/tabsync/tabsync/internal/webhook"
	"github.com/tabsync/tabsync/internal/worker"
)

// Config represents the application configuration
type Config struct {
	Database db.Config      `toml:"database"`
	Pipeline worker.Config  `toml:"pipeline"`
	Trigger  trigger.Config `toml:"trigger"`
	Webhook  webhook.Config `toml:"webhook"`
	Stats    stats.Config   `toml:"stats"`
	Notion   NotionConfig   `toml:"notion"`
	Sheets   SheetsConfig   `toml:"sheets"`
	Cache    CacheConfig    `toml:"cache"`
	Logging  LoggingConfig  `toml:"logging"`
}

// NotionConfig holds source API credentials. AccountID switches token
// lookup to the accounts table; Token is the static fallback.
type NotionConfig struct {
	Token      string `toml:"token"`
	AccountID  string `toml:"account_id"`
	BaseURL    string `toml:"base_url"`
	APIVersion string `toml:"api_version"`
}

// SheetsConfig holds destination API credentials. AccountID switches
// credential lookup to the accounts table; rotated tokens are persisted
// back to it.
type SheetsConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RefreshToken string `toml:"refresh_token"`
	AccessToken  string `toml:"access_token"`
	AccountID    string `toml:"account_id"`
	TokenURL     string `toml:"token_url"`
}

// CacheConfig selects the automation cache backend by DSN
type CacheConfig struct {
	DSN string `toml:"dsn"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "tabsync.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			MigrationsDir:   "migrations",
			SkipMigrations:  false,
		},
		Pipeline: worker.DefaultConfig(),
		Trigger:  trigger.DefaultConfig(),
		Webhook:  webhook.DefaultConfig(),
		Stats:    stats.DefaultConfig(),
		Cache: CacheConfig{
			DSN: "memory://",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// If no config file specified, return defaults
	if configPath == "" {
		return config, nil
	}

	// Load from file if it exists
	fileConfig, err := LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}

	return fileConfig, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	if c.Database.Driver != "sqlite3" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3 or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	// Pipeline validation
	if c.Pipeline.ImportPageSize < 0 {
		return fmt.Errorf("pipeline import_page_size must not be negative")
	}
	if c.Pipeline.ImportMaxRows < 0 {
		return fmt.Errorf("pipeline import_max_rows must not be negative")
	}
	if c.Pipeline.IdentityScanRows < 0 {
		return fmt.Errorf("pipeline identity_scan_rows must not be negative")
	}

	// Trigger validation
	if c.Trigger.TickInterval <= 0 {
		return fmt.Errorf("trigger tick_interval must be positive")
	}

	// Webhook validation
	if c.Webhook.Addr == "" {
		return fmt.Errorf("webhook addr must be specified")
	}
	if c.Webhook.Path == "" {
		return fmt.Errorf("webhook path must be specified")
	}
	if c.Webhook.Production && c.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret is required in production")
	}

	// Stats validation
	if c.Stats.FlushInterval <= 0 {
		return fmt.Errorf("stats flush_interval must be positive")
	}
	if c.Stats.FlushSize <= 0 {
		return fmt.Errorf("stats flush_size must be positive")
	}

	// Cache validation
	if c.Cache.DSN == "" {
		return fmt.Errorf("cache DSN must be specified")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}
