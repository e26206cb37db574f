package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/robfig/cron/v3"
)

// Config holds all engine configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// Extractor Configuration:
// - EXIFTOOL_PATH: exiftool binary to invoke (default: exiftool)
// - EXIFTOOL_TIMEOUT: per-call timeout in seconds (default: 10)
// - EXIFTOOL_RESTART_RETRIES: restart attempts after a dead process (default: 2)
//
// Cache Configuration:
// - CACHE_DB_PATH: SQLite cache/history database path (default: <data dir>/oncutf/cache.db)
// - CACHE_MEMORY_ENTRIES: memory tier LRU capacity (default: 1000)
//
// Engine Configuration:
// - EXTRACT_WORKERS: parallel extraction workers per batch (default: 4)
// - PREVIEW_TTL_MS: preview memoization TTL in milliseconds, <=0 disables (default: 100)
// - FRAGMENT_TTL_MS: module fragment memoization TTL in milliseconds, <=0 disables (default: 30)
//
// Maintenance Configuration:
// - MAINTENANCE_CRON: cache prune schedule for watch mode (default: @hourly)
//
// System Configuration:
// - LOG_LEVEL: debug/info/warn/error (default: info)

type Config struct {
	Extractor   ExtractorConfig   `json:"extractor"`
	Cache       CacheConfig       `json:"cache"`
	Engine      EngineConfig      `json:"engine"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	System      SystemConfig      `json:"system"`
}

// ExtractorConfig holds the configuration for the external exiftool process.
type ExtractorConfig struct {
	BinaryPath     string `json:"binary_path"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	RestartRetries int    `json:"restart_retries"`
}

// CacheConfig holds the configuration for the two-tier metadata cache.
type CacheConfig struct {
	DBPath        string `json:"db_path"`
	MemoryEntries int    `json:"memory_entries"`
}

// EngineConfig holds the configuration for the rename engine.
type EngineConfig struct {
	ExtractWorkers   int `json:"extract_workers"`
	PreviewTTLMilli  int `json:"preview_ttl_ms"`
	FragmentTTLMilli int `json:"fragment_ttl_ms"`
}

// MaintenanceConfig holds the background maintenance schedule.
type MaintenanceConfig struct {
	CronExpr string `json:"cron_expr"`
}

// SystemConfig holds the system configuration.
type SystemConfig struct {
	LogLevel string `json:"log_level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Extractor: ExtractorConfig{
			BinaryPath:     getEnvString("EXIFTOOL_PATH", "exiftool"),
			TimeoutSeconds: getEnvInt("EXIFTOOL_TIMEOUT", 10),
			RestartRetries: getEnvInt("EXIFTOOL_RESTART_RETRIES", 2),
		},
		Cache: CacheConfig{
			DBPath:        getEnvString("CACHE_DB_PATH", defaultDBPath()),
			MemoryEntries: getEnvInt("CACHE_MEMORY_ENTRIES", 1000),
		},
		Engine: EngineConfig{
			ExtractWorkers:   getEnvInt("EXTRACT_WORKERS", 4),
			PreviewTTLMilli:  getEnvInt("PREVIEW_TTL_MS", 100),
			FragmentTTLMilli: getEnvInt("FRAGMENT_TTL_MS", 30),
		},
		Maintenance: MaintenanceConfig{
			CronExpr: getEnvString("MAINTENANCE_CRON", "@hourly"),
		},
		System: SystemConfig{
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Extractor.BinaryPath == "" {
		return fmt.Errorf("EXIFTOOL_PATH is required")
	}
	if c.Extractor.TimeoutSeconds <= 0 {
		return fmt.Errorf("EXIFTOOL_TIMEOUT must be positive")
	}
	if c.Extractor.RestartRetries < 0 {
		return fmt.Errorf("EXIFTOOL_RESTART_RETRIES must not be negative")
	}
	if c.Cache.DBPath == "" {
		return fmt.Errorf("CACHE_DB_PATH is required")
	}
	if c.Cache.MemoryEntries <= 0 {
		return fmt.Errorf("CACHE_MEMORY_ENTRIES must be positive")
	}
	if c.Engine.ExtractWorkers <= 0 {
		return fmt.Errorf("EXTRACT_WORKERS must be positive")
	}
	if c.Maintenance.CronExpr != "" {
		if _, err := cron.ParseStandard(c.Maintenance.CronExpr); err != nil {
			return fmt.Errorf("invalid MAINTENANCE_CRON: %w", err)
		}
	}
	return nil
}

func defaultDBPath() string {
	dataDir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", "oncutf", "cache.db")
	}
	return filepath.Join(dataDir, "oncutf", "cache.db")
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
