// Package config loads and validates the tensiond configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WinWeights are the weights applied to the Wisdom, Intelligence and
// Networking axes when combining them into a total WIN score.
type WinWeights struct {
	Wisdom       float64 `yaml:"wisdom"`
	Intelligence float64 `yaml:"intelligence"`
	Networking   float64 `yaml:"networking"`
}

// Config holds all recognized tensiond options
type Config struct {
	// Reasoning core
	MaxBatchConcurrency      int        `yaml:"max_batch_concurrency"`
	DefaultPriorityMethod    string     `yaml:"default_priority_method"`
	RuleEngineDefaultsEnabled bool      `yaml:"rule_engine_defaults_enabled"`
	WinScoringWeights        WinWeights `yaml:"win_scoring_weights"`
	PerformanceHistoryLimit  int        `yaml:"performance_history_limit"`

	// Hosting surface
	HTTPPort  int    `yaml:"http_port"`
	StatePath string `yaml:"state_path"`
	LogLevel  string `yaml:"log_level"`
	LogJSON   bool   `yaml:"log_json"`

	// NATS bridge. Empty URL with EmbeddedNATS false disables the bridge.
	NATSURL      string `yaml:"nats_url"`
	EmbeddedNATS bool   `yaml:"embedded_nats"`
}

// Default returns the configuration with all defaults applied
func Default() *Config {
	return &Config{
		MaxBatchConcurrency:       16,
		DefaultPriorityMethod:     "weighted_average",
		RuleEngineDefaultsEnabled: true,
		WinScoringWeights: WinWeights{
			Wisdom:       0.4,
			Intelligence: 0.4,
			Networking:   0.2,
		},
		PerformanceHistoryLimit: 100,
		HTTPPort:                3000,
		StatePath:               "data/tensiond.db",
		LogLevel:                "info",
	}
}

// Load reads a YAML config file and overlays it on the defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option ranges and normalizes the WIN weights
func (c *Config) Validate() error {
	if c.MaxBatchConcurrency < 1 {
		return fmt.Errorf("max_batch_concurrency must be >= 1, got %d", c.MaxBatchConcurrency)
	}
	if c.PerformanceHistoryLimit < 1 {
		return fmt.Errorf("performance_history_limit must be >= 1, got %d", c.PerformanceHistoryLimit)
	}
	switch c.DefaultPriorityMethod {
	case "weighted_average", "eisenhower_matrix", "rice_framework", "value_complexity", "risk_adjusted":
	default:
		return fmt.Errorf("unknown default_priority_method %q", c.DefaultPriorityMethod)
	}

	sum := c.WinScoringWeights.Wisdom + c.WinScoringWeights.Intelligence + c.WinScoringWeights.Networking
	if sum <= 0 {
		return fmt.Errorf("win_scoring_weights must sum to a positive value")
	}
	// Normalize so downstream scoring can assume the weights sum to 1
	c.WinScoringWeights.Wisdom /= sum
	c.WinScoringWeights.Intelligence /= sum
	c.WinScoringWeights.Networking /= sum

	return nil
}
