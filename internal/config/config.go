// Package config loads the datapath daemon's configuration from a YAML
// file, applies defaults for anything left unset, and lets a handful
// of environment variables override the result.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Config is the top-level daemon configuration.
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Switch  SwitchConfig  `yaml:"switch"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ListenConfig configures the OpenFlow control-channel listener.
type ListenConfig struct {
	Network string `yaml:"network"`
	Addr    string `yaml:"addr"`
}

// SwitchConfig configures the datapath's pipeline behavior.
type SwitchConfig struct {
	// TableCount is the number of flow tables the pipeline carries.
	TableCount int `yaml:"table_count"`

	// MaxEntriesPerTable bounds each table's memtable capacity.
	MaxEntriesPerTable uint32 `yaml:"max_entries_per_table"`

	// MissSendLength mirrors the OFPC_MISS_SEND_LEN switch config.
	MissSendLength uint16 `yaml:"miss_send_length"`

	// InvalidTTLToController mirrors OFPC_INVALID_TTL_TO_CONTROLLER.
	InvalidTTLToController bool `yaml:"invalid_ttl_to_controller"`
}

// LogConfig configures the logrus-backed logging seam.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// RateLimitPerSecond/RateLimitBurst configure the internal/rl
	// token bucket used for per-packet debug/warn lines.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Load reads the YAML configuration at path, applies defaults for
// anything left unset, overrides with environment variables, and
// validates the result. An empty path skips the file read and starts
// from a zero-value Config before defaults are applied.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.Network == "" {
		cfg.Listen.Network = "tcp"
	}
	if cfg.Listen.Addr == "" {
		cfg.Listen.Addr = "0.0.0.0:6653"
	}

	if cfg.Switch.TableCount == 0 {
		cfg.Switch.TableCount = 64
	}
	if cfg.Switch.MaxEntriesPerTable == 0 {
		cfg.Switch.MaxEntriesPerTable = 1 << 14
	}
	if cfg.Switch.MissSendLength == 0 {
		cfg.Switch.MissSendLength = 128
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.RateLimitPerSecond == 0 {
		cfg.Log.RateLimitPerSecond = 1
	}
	if cfg.Log.RateLimitBurst == 0 {
		cfg.Log.RateLimitBurst = 60
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// applyEnvironmentOverrides lets a small set of OFSWITCHD_-prefixed
// variables override the loaded/default configuration, the same
// override layer a deployment's env-driven container config expects.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("OFSWITCHD_LISTEN_ADDR"); v != "" {
		cfg.Listen.Addr = v
	}
	if v := os.Getenv("OFSWITCHD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OFSWITCHD_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("OFSWITCHD_METRICS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = enabled
		}
	}
	if v := os.Getenv("OFSWITCHD_TABLE_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Switch.TableCount = n
		}
	}
}

// validate rejects a configuration the daemon cannot start from.
func validate(cfg *Config) error {
	if cfg.Switch.TableCount <= 0 || cfg.Switch.TableCount > 255 {
		return fmt.Errorf("switch.table_count must be in [1, 255], got %d", cfg.Switch.TableCount)
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", cfg.Log.Level)
	}

	if cfg.Log.RateLimitPerSecond <= 0 {
		return fmt.Errorf("log.rate_limit_per_second must be positive, got %v", cfg.Log.RateLimitPerSecond)
	}

	return nil
}
