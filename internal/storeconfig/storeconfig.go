// Package storeconfig reads the TOML-backed driver configuration for a
// stagecore installation: where the blob store lives on disk, the default
// mode bits a job's outputs get when it declares none, and the threshold
// used only for an operator-facing "list stale staging files" report.
// stagecore never acts on that threshold itself: the core has no garbage
// collection of its own.
package storeconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk shape of a stagecore driver config file.
type Config struct {
	StoreRoot       string `toml:"store_root"`
	DefaultFileMode uint32 `toml:"default_file_mode"`
	DefaultDirMode  uint32 `toml:"default_dir_mode"`
	MaxStagingAge   string `toml:"max_staging_age"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		StoreRoot:       ".stagecore",
		DefaultFileMode: 0o644,
		DefaultDirMode:  0o755,
		MaxStagingAge:   "24h",
	}
}

// Load reads and parses the TOML config at path. A missing file is not an
// error: it returns Default(), treating an absent config as an empty one
// rather than failing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("storeconfig: stat %q: %w", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("storeconfig: decode %q: %w", path, err)
	}
	return cfg, nil
}

// StagingAge parses MaxStagingAge as a duration, falling back to 24h for
// an empty or malformed value.
func (c *Config) StagingAge() time.Duration {
	d, err := time.ParseDuration(c.MaxStagingAge)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}
