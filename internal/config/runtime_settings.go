package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
)

const DefaultRuntimeSettingsFile = "settings.json"

// RuntimeSettings is the subset of configuration that can be changed without
// restarting: it is persisted as a JSON file next to the cache database and
// overrides the environment on load.
type RuntimeSettings struct {
	ExiftoolPath    string `json:"exiftool_path"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	MaintenanceCron string `json:"maintenance_cron"`
	LogLevel        string `json:"log_level"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.ExiftoolPath) == "" {
		return fmt.Errorf("exiftool_path is required")
	}
	if s.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	if strings.TrimSpace(s.MaintenanceCron) != "" {
		if _, err := cron.ParseStandard(s.MaintenanceCron); err != nil {
			return fmt.Errorf("invalid maintenance_cron: %w", err)
		}
	}
	return nil
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		ExiftoolPath:    c.Extractor.BinaryPath,
		TimeoutSeconds:  c.Extractor.TimeoutSeconds,
		MaintenanceCron: c.Maintenance.CronExpr,
		LogLevel:        c.System.LogLevel,
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.ExiftoolPath) != "" {
			c.Extractor.BinaryPath = settings.ExiftoolPath
		}
		if settings.TimeoutSeconds > 0 {
			c.Extractor.TimeoutSeconds = settings.TimeoutSeconds
		}
		if strings.TrimSpace(settings.MaintenanceCron) != "" {
			c.Maintenance.CronExpr = settings.MaintenanceCron
		}
		if strings.TrimSpace(settings.LogLevel) != "" {
			c.System.LogLevel = settings.LogLevel
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
