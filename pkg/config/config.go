// Package config loads replay tool configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/capstream-io/capstream/util"
)

// Config holds everything the replay tool needs: which log to open, what
// slice of it to play, and the ambient knobs.
type Config struct {
	// log selection
	LogPath        string `yaml:"log_path"`
	IgnoreEndMagic bool   `yaml:"ignore_end_magic"`

	// playback window and filters
	Topics    []string `yaml:"topics"`
	Channels  []int    `yaml:"channels"`
	StartUsec int64    `yaml:"start_usec"`
	EndUsec   int64    `yaml:"end_usec"`

	// playback behavior
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
	TickMS int     `yaml:"tick_ms"`

	// observability
	LogLevel       util.LogLevel `yaml:"log_level"`
	EnableExporter bool          `yaml:"enable_exporter"`
	ExporterPort   int           `yaml:"exporter_port"`
}

// Default returns a config with every field at its baseline value.
func Default() *Config {
	return &Config{
		StartUsec: -1,
		EndUsec:   -1,
		Speed:     1.0,
		TickMS:    10,
		LogLevel:  util.LogLevelInfo,
	}
}

// Load reads a YAML config file on top of the defaults, applies environment
// overrides and normalizes the result. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CAPSTREAM_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	overrideEnvString(&cfg.LogPath, "CAPSTREAM_LOG_PATH")
	overrideEnvBool(&cfg.IgnoreEndMagic, "CAPSTREAM_IGNORE_END_MAGIC")
	overrideEnvStringSlice(&cfg.Topics, "CAPSTREAM_TOPICS")
	overrideEnvIntSlice(&cfg.Channels, "CAPSTREAM_CHANNELS")
	overrideEnvInt64(&cfg.StartUsec, "CAPSTREAM_START_USEC")
	overrideEnvInt64(&cfg.EndUsec, "CAPSTREAM_END_USEC")
	overrideEnvFloat64(&cfg.Speed, "CAPSTREAM_SPEED")
	overrideEnvBool(&cfg.Loop, "CAPSTREAM_LOOP")
	overrideEnvInt(&cfg.TickMS, "CAPSTREAM_TICK_MS")
	overrideEnvBool(&cfg.EnableExporter, "CAPSTREAM_ENABLE_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "CAPSTREAM_EXPORTER_PORT")
	if v := os.Getenv("CAPSTREAM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = util.ParseLogLevel(v)
	}
}

// Normalize clamps every field into its valid range.
func (cfg *Config) Normalize() {
	if cfg.Speed <= 0 {
		util.Warn("invalid speed %v, defaulting to 1.0", cfg.Speed)
		cfg.Speed = 1.0
	}
	if cfg.TickMS <= 0 {
		cfg.TickMS = 10
	}
	if cfg.StartUsec < 0 {
		cfg.StartUsec = -1
	}
	if cfg.EndUsec < 0 {
		cfg.EndUsec = -1
	}
	if cfg.StartUsec >= 0 && cfg.EndUsec >= 0 && cfg.StartUsec > cfg.EndUsec {
		util.Warn("start_usec %d after end_usec %d, ignoring window", cfg.StartUsec, cfg.EndUsec)
		cfg.StartUsec = -1
		cfg.EndUsec = -1
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}
	kept := cfg.Channels[:0]
	for _, id := range cfg.Channels {
		if id >= 0 && id <= 0xFFFF {
			kept = append(kept, id)
		} else {
			util.Warn("channel id %d out of range, dropping", id)
		}
	}
	cfg.Channels = kept
}

// ChannelIDs returns the channel filter as wire-sized ids.
func (cfg *Config) ChannelIDs() []uint16 {
	out := make([]uint16, 0, len(cfg.Channels))
	for _, id := range cfg.Channels {
		out = append(out, uint16(id))
	}
	return out
}

// Validate reports whether the config can drive a replay session.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.LogPath) == "" {
		return fmt.Errorf("log_path is required")
	}
	return nil
}
