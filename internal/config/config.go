// Package config provides configuration loading and structs for the Kiroku document core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Processing ProcessingConfig `yaml:"processing"`
	Sync       SyncConfig       `yaml:"sync"`
	Pagination PaginationConfig `yaml:"pagination"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the data directory and index paths. DataDir is the
// root under which scanned_documents/, thumbnails/, page_images/ and
// scratch/ live.
type StorageConfig struct {
	DataDir        string `yaml:"data_dir"`
	DatabasePath   string `yaml:"database_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// ProcessingConfig holds image preprocessing settings.
type ProcessingConfig struct {
	// MaxLongEdgePx caps the longer image edge after downscaling.
	MaxLongEdgePx int `yaml:"max_long_edge_px"`
	// LowMemLongEdgePx replaces MaxLongEdgePx under memory pressure.
	LowMemLongEdgePx    int `yaml:"low_mem_long_edge_px"`
	JPEGQuality         int `yaml:"jpeg_quality"`
	LowMemJPEGQuality   int `yaml:"low_mem_jpeg_quality"`
	ThumbnailLongEdgePx int `yaml:"thumbnail_long_edge_px"`
	// Parallelism bounds concurrent per-image preprocessing.
	Parallelism int `yaml:"parallelism"`
	// ScratchKeep is how many scratch files survive a prune.
	ScratchKeep int `yaml:"scratch_keep"`
	// ScratchMaxAgeHours is the age past which scratch files are pruned.
	ScratchMaxAgeHours int `yaml:"scratch_max_age_hours"`
}

// SyncConfig holds remote synchronization settings. An empty endpoint
// disables the remote entirely; documents then stay local with pending
// sync status.
type SyncConfig struct {
	Endpoint            string `yaml:"endpoint"`
	PullIntervalSeconds int    `yaml:"pull_interval_seconds"`
	MaxRetries          int    `yaml:"max_retries"`
	QueueSize           int    `yaml:"queue_size"`
}

// PaginationConfig holds read-path paging settings.
type PaginationConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
	// WindowPageSize is the fixed page size of the windowed loader.
	WindowPageSize int `yaml:"window_page_size"`
	// WindowMaxItems is the resident item ceiling of the windowed loader.
	WindowMaxItems int `yaml:"window_max_items"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
