package storeconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if *cfg != *def {
		t.Fatalf("Load(missing) = %+v, want %+v", cfg, def)
	}
}

func TestLoadParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stagecore.toml")
	body := `
store_root = "/var/cache/stagecore"
default_file_mode = 420
default_dir_mode = 493
max_staging_age = "48h"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreRoot != "/var/cache/stagecore" {
		t.Fatalf("StoreRoot = %q", cfg.StoreRoot)
	}
	if cfg.DefaultFileMode != 0o644 {
		t.Fatalf("DefaultFileMode = %o, want 0644", cfg.DefaultFileMode)
	}
	if cfg.DefaultDirMode != 0o755 {
		t.Fatalf("DefaultDirMode = %o, want 0755", cfg.DefaultDirMode)
	}
	if cfg.StagingAge() != 48*time.Hour {
		t.Fatalf("StagingAge = %v, want 48h", cfg.StagingAge())
	}
}

func TestStagingAgeFallsBackOnMalformedDuration(t *testing.T) {
	cfg := &Config{MaxStagingAge: "not-a-duration"}
	if cfg.StagingAge() != 24*time.Hour {
		t.Fatalf("StagingAge = %v, want fallback 24h", cfg.StagingAge())
	}
}
