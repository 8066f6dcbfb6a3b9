// Package config defines the probescope configuration, loaded through viper
// from a YAML file and PROBESCOPE_* environment variables.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the complete probescope configuration.
type Config struct {
	Capture   CaptureConfig   `mapstructure:"capture"`
	Transport TransportConfig `mapstructure:"transport"`
	Display   DisplayConfig   `mapstructure:"display"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CaptureConfig lists the targets registered at session start. Further
// targets can be added and removed at runtime over the control protocol.
type CaptureConfig struct {
	Targets []TargetConfig `mapstructure:"targets"`
}

// TargetConfig describes one capture target.
type TargetConfig struct {
	File   string `mapstructure:"file"`
	Line   int    `mapstructure:"line"`
	Col    int    `mapstructure:"col"`
	Symbol string `mapstructure:"symbol"`
	Scope  string `mapstructure:"scope"`
	// ThrottleHint is a display-cadence hint in refreshes per second
	// (0 = session default). It never affects capture.
	ThrottleHint float64 `mapstructure:"throttle_hint"`
}

// TransportConfig controls the cross-process delivery layer.
type TransportConfig struct {
	// DataEndpoint is the ZeroMQ endpoint for the batch stream.
	DataEndpoint string `mapstructure:"data_endpoint"`
	// ControlEndpoint is the ZeroMQ endpoint for the registration protocol.
	ControlEndpoint string `mapstructure:"control_endpoint"`
	// QueueLen bounds in-flight messages before the producer's send blocks.
	QueueLen int `mapstructure:"queue_len"`
	// InlineThresholdBytes is the encoded-value size above which a payload
	// moves to a shared region.
	InlineThresholdBytes int `mapstructure:"inline_threshold_bytes"`
	// RegionDir backs the shared regions (empty = platform default).
	RegionDir string `mapstructure:"region_dir"`
}

// DisplayConfig controls the consumer's refresh behavior.
type DisplayConfig struct {
	// RefreshHz is the redraw notification cadence.
	RefreshHz float64 `mapstructure:"refresh_hz"`
	// PollIntervalMs is how often the consumer polls the transport.
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// PollBudget bounds messages processed per poll.
	PollBudget int `mapstructure:"poll_budget"`
}

// LoggingConfig controls the structured session log.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level"`
	// Dir receives probescope.log (empty = stderr).
	Dir string `mapstructure:"dir"`
}

// ConfigDir returns the directory probescope looks in for its config file.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "probescope")
}

// SetDefaults registers defaults with viper so a missing config file still
// yields a working session.
func SetDefaults() {
	viper.SetDefault("transport.data_endpoint", "tcp://127.0.0.1:5731")
	viper.SetDefault("transport.control_endpoint", "tcp://127.0.0.1:5732")
	viper.SetDefault("transport.queue_len", 1024)
	viper.SetDefault("transport.inline_threshold_bytes", 16*1024)
	viper.SetDefault("transport.region_dir", "")

	viper.SetDefault("display.refresh_hz", 60)
	viper.SetDefault("display.poll_interval_ms", 5)
	viper.SetDefault("display.poll_budget", 256)

	viper.SetDefault("logging.level", "INFO")
	viper.SetDefault("logging.dir", "")
}

// Load unmarshals the current viper state into a validated Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
