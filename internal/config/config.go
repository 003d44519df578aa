// Package config loads engine configuration from file, environment and
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete engine configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Tracking    TrackingConfig    `mapstructure:"tracking"`
	Enforcement EnforcementConfig `mapstructure:"enforcement"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig defines the local API gateway's listen address. The engine is
// single-instance per machine; a second instance fails to bind this port.
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
}

// ListenAddr returns the host:port string for the gateway listener.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.Port)
}

// StorageConfig defines where the encrypted store and key file live.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// TrackingConfig defines usage aggregator tick intervals.
type TrackingConfig struct {
	SampleInterval  time.Duration `mapstructure:"sample_interval"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// EnforcementConfig defines the process sweep interval.
type EnforcementConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// SchedulerConfig defines the schedule check interval.
type SchedulerConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load reads configuration from the given file path (optional), environment
// variables prefixed FORGED_, and built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FORGED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("storage.data_dir", defaultDataDir())
	v.SetDefault("tracking.sample_interval", "1s")
	v.SetDefault("tracking.refresh_interval", "30s")
	v.SetDefault("enforcement.sweep_interval", "1s")
	v.SetDefault("scheduler.check_interval", "1m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

// Validate checks config invariants after load.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	if c.Tracking.SampleInterval < 100*time.Millisecond {
		return fmt.Errorf("tracking.sample_interval too small: %s", c.Tracking.SampleInterval)
	}
	if c.Enforcement.SweepInterval < 100*time.Millisecond {
		return fmt.Errorf("enforcement.sweep_interval too small: %s", c.Enforcement.SweepInterval)
	}
	if c.Scheduler.CheckInterval < time.Second {
		return fmt.Errorf("scheduler.check_interval too small: %s", c.Scheduler.CheckInterval)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", c.Logging.Level)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".forged"
	}
	return filepath.Join(home, ".forged")
}
