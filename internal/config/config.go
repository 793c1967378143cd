// Package config holds the daemon's runtime settings: a handful of TOML
// keys with baked-in defaults. Everything works with no file at all.
package config

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the full runtime configuration.
type Config struct {
	// FifoPath is the well-known rendezvous endpoint.
	FifoPath string `toml:"fifo_path"`
	// LogPath receives the daemon's output once detached.
	LogPath string `toml:"log_path"`
	// SysfsRoot is the kernel CPU device directory; overridable for tests.
	SysfsRoot string `toml:"sysfs_root"`
	// PollIntervalSeconds bounds each wait for a new target message.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	// StrictCPUList makes a malformed CPU list fatal instead of using the
	// valid prefix with a warning.
	StrictCPUList bool `toml:"strict_cpu_list"`
	// HTTPAddr enables the local status/metrics endpoint when non-empty.
	HTTPAddr string `toml:"http_addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		FifoPath:            "/tmp/downsize",
		LogPath:             "/tmp/downsize.log",
		SysfsRoot:           "", // sysfs package default
		PollIntervalSeconds: 5,
		StrictCPUList:       false,
		HTTPAddr:            "",
	}
}

// Load reads a TOML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.PollIntervalSeconds <= 0 {
		return cfg, fmt.Errorf("config %s: poll_interval_seconds must be positive", path)
	}
	return cfg, nil
}

// PollInterval returns the wait bound as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
