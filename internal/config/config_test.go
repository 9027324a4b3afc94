package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("debug: true\nstorage:\n  data_dir: ./data\n")
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true")
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("expected default port 8090, got %d", cfg.Server.Port)
	}
	if cfg.Processing.MaxLongEdgePx != 2500 {
		t.Errorf("expected default long edge 2500, got %d", cfg.Processing.MaxLongEdgePx)
	}
	if cfg.Processing.LowMemLongEdgePx != 2000 {
		t.Errorf("expected low-mem long edge 2000, got %d", cfg.Processing.LowMemLongEdgePx)
	}
	if cfg.Processing.JPEGQuality != 90 || cfg.Processing.LowMemJPEGQuality != 82 {
		t.Errorf("unexpected quality defaults: %d, %d", cfg.Processing.JPEGQuality, cfg.Processing.LowMemJPEGQuality)
	}
	if cfg.Pagination.DefaultPageSize != 20 {
		t.Errorf("expected default page size 20, got %d", cfg.Pagination.DefaultPageSize)
	}

	// ./data expands relative to the config directory.
	want := filepath.Join(dir, "data")
	if cfg.Storage.DataDir != want {
		t.Errorf("expected %s, got %s", want, cfg.Storage.DataDir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Sync.Endpoint = "https://example.com/api"

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Sync.Endpoint != "https://example.com/api" {
		t.Errorf("got %s", loaded.Sync.Endpoint)
	}
	if loaded.Sync.PullIntervalSeconds != cfg.Sync.PullIntervalSeconds {
		t.Errorf("pull interval mismatch: %d", loaded.Sync.PullIntervalSeconds)
	}
}
