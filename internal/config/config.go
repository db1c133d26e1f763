// Package config loads the marchingcubes TOML configuration file.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the full configuration file.
type Config struct {
	Extract ExtractConfig `toml:"extract"`
	Logging LoggingConfig `toml:"logging"`
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
}

// ExtractConfig holds pipeline defaults.
type ExtractConfig struct {
	GridLog2  [3]uint `toml:"grid_log2"`
	IsoValue  float32 `toml:"iso_value"`
	IsoStep   float32 `toml:"iso_step"`
	SkipEmpty bool    `toml:"skip_empty"`
	Backend   string  `toml:"backend"`
	Workers   int     `toml:"workers"`
	MaxVerts  int     `toml:"max_verts"`
}

// LoggingConfig selects the log level and an optional rotating log file.
type LoggingConfig struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	MaxSize int    `toml:"max_size"` // megabytes
	MaxAge  int    `toml:"max_age"`  // days
}

// ServerConfig configures the job server. VolumeDir is the only directory
// jobs may read volume files from; empty disables volume files.
type ServerConfig struct {
	Addr        string `toml:"addr"`
	VolumeDir   string `toml:"volume_dir"`
	MaxGridLog2 uint   `toml:"max_grid_log2"`
}

type StoreConfig struct {
	DataDir string `toml:"data_dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Extract: ExtractConfig{
			GridLog2:  [3]uint{5, 5, 5},
			IsoValue:  0.2,
			IsoStep:   0.005,
			SkipEmpty: true,
			Backend:   "cpu",
		},
		Logging: LoggingConfig{
			Level:   "info",
			MaxSize: 100,
			MaxAge:  28,
		},
		Server: ServerConfig{Addr: ":8080", MaxGridLog2: 7},
		Store:  StoreConfig{DataDir: "./data"},
	}
}

// Load reads a TOML file on top of the defaults. Keys missing from the file
// keep their default values. Relative paths in the file are resolved against
// the file's directory. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}

	dir := filepath.Dir(path)
	if md.IsDefined("store", "data_dir") {
		cfg.Store.DataDir = absolute(cfg.Store.DataDir, dir)
	}
	if cfg.Server.VolumeDir != "" {
		cfg.Server.VolumeDir = absolute(cfg.Server.VolumeDir, dir)
	}
	if cfg.Logging.File != "" {
		cfg.Logging.File = absolute(cfg.Logging.File, dir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func absolute(path, dir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Validate checks values that would make every command fail.
func (c *Config) Validate() error {
	for axis, l := range c.Extract.GridLog2 {
		if l == 0 || l > 10 {
			return fmt.Errorf("extract.grid_log2[%d] = %d outside [1,10]", axis, l)
		}
	}
	if c.Extract.IsoValue < 0 || c.Extract.IsoValue > 1 {
		return fmt.Errorf("extract.iso_value %g outside [0,1]", c.Extract.IsoValue)
	}
	if c.Extract.Workers < 0 || c.Extract.MaxVerts < 0 {
		return fmt.Errorf("extract.workers and extract.max_verts cannot be negative")
	}
	if l := c.Server.MaxGridLog2; l == 0 || l > 10 {
		return fmt.Errorf("server.max_grid_log2 = %d outside [1,10]", l)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	return nil
}
