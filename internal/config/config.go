package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/tapewatch/internal/book"
	"github.com/sawpanic/tapewatch/internal/execution"
	"github.com/sawpanic/tapewatch/internal/feed"
	"github.com/sawpanic/tapewatch/internal/features"
	"github.com/sawpanic/tapewatch/internal/monitor"
	"github.com/sawpanic/tapewatch/internal/notify"
	"github.com/sawpanic/tapewatch/internal/pipeline"
	"github.com/sawpanic/tapewatch/internal/scarcity"
	"github.com/sawpanic/tapewatch/internal/validator"
)

// Config is the full runtime configuration. Every knob is data, not code;
// a partial YAML file overlays these defaults section by section.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Feed      feed.Config      `yaml:"feed"`
	Pipeline  pipeline.Config  `yaml:"pipeline"`
	Book      book.Config      `yaml:"book"`
	Features  features.Config  `yaml:"features"`
	Validator validator.Config `yaml:"validator"`
	Scarcity  scarcity.Config  `yaml:"scarcity"`
	Monitor   monitor.Config   `yaml:"monitor"`
	Notify    notify.Config    `yaml:"notify"`
	Execution execution.Config `yaml:"execution"`

	Journal   JournalConfig   `yaml:"journal"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// JournalConfig holds decision journal settings. An empty DSN disables the
// journal entirely.
type JournalConfig struct {
	DSN             string `yaml:"dsn"`
	QueueSize       int    `yaml:"queue_size"`
	InsertTimeoutMs int64  `yaml:"insert_timeout_ms"`
}

// RedisConfig holds the shared redis connection used by the signal bus and
// admission-state store. An empty address disables both.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TelemetryConfig holds the operator HTTP endpoint settings.
type TelemetryConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the full production default configuration.
func Default() Config {
	return Config{
		LogLevel:  "info",
		Feed:      feed.DefaultConfig(),
		Pipeline:  pipeline.DefaultConfig(),
		Book:      book.DefaultConfig(),
		Features:  features.DefaultConfig(),
		Validator: validator.DefaultConfig(),
		Scarcity:  scarcity.DefaultConfig(),
		Monitor:   monitor.DefaultConfig(),
		Notify:    notify.DefaultConfig(),
		Execution: execution.DefaultConfig(),
		Journal: JournalConfig{
			QueueSize:       256,
			InsertTimeoutMs: 2_000,
		},
		Telemetry: TelemetryConfig{
			Addr: ":9090",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults untouched. Callers apply flag overrides, then Validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run, and keeps cooldown
// knobs coherent: the validator's bypass check and the admission
// controller's symbol cooldown must describe the same window.
func (c *Config) Validate() error {
	if len(c.Pipeline.Symbols) == 0 {
		return fmt.Errorf("config: pipeline.symbols must name at least one symbol")
	}
	if c.Feed.URL == "" {
		return fmt.Errorf("config: feed.url is required")
	}
	if c.Scarcity.SymbolCooldownMinutes <= 0 {
		return fmt.Errorf("config: scarcity.symbol_cooldown_minutes must be positive")
	}
	c.Validator.SymbolCooldownMs = int64(c.Scarcity.SymbolCooldownMinutes) * 60_000
	return nil
}
