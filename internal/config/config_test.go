package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Defaults.Timezone != "UTC" || cfg.Defaults.HistoryLimit != 50 {
		t.Fatalf("unexpected defaults: %+v", cfg.Defaults)
	}
}

func TestFromYAMLOverrides(t *testing.T) {
	cfg, err := FromYAML([]byte("defaults:\n  timezone: Asia/Tokyo\n  history_limit: 10\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Defaults.Timezone != "Asia/Tokyo" || cfg.Defaults.HistoryLimit != 10 {
		t.Fatalf("overrides not applied: %+v", cfg.Defaults)
	}
	// Untouched sections keep their defaults.
	if cfg.Logging.Level != "info" {
		t.Fatalf("logging level = %s", cfg.Logging.Level)
	}
}

func TestFromYAMLRejectsBadTimezone(t *testing.T) {
	if _, err := FromYAML([]byte("defaults:\n  timezone: Mars/Olympus\n")); err == nil {
		t.Fatal("want an error for an unknown timezone")
	}
}

func TestLocation(t *testing.T) {
	cfg, err := FromYAML([]byte("defaults:\n  timezone: Asia/Tokyo\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Location().String(); got != "Asia/Tokyo" {
		t.Fatalf("location = %s", got)
	}
	if got := Default().Location().String(); got != "UTC" {
		t.Fatalf("default location = %s", got)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Defaults.Timezone != "UTC" {
		t.Fatalf("fallback config = %+v", cfg.Defaults)
	}

	path := filepath.Join(dir, "choreline.yml")
	if err := os.WriteFile(path, []byte("defaults:\n  timezone: Europe/Paris\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Defaults.Timezone != "Europe/Paris" {
		t.Fatalf("file not honored: %+v", cfg.Defaults)
	}
}
