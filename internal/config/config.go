// Package config loads and validates dropforge configuration from
// .dropforge/config.yaml with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all dropforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// HTTP API server
	Server ServerConfig `yaml:"server"`

	// SQLite persistence
	Store StoreConfig `yaml:"store"`

	// Candidate discovery source
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Creative generation
	Creative CreativeConfig `yaml:"creative"`

	// Scoring engine
	Scoring ScoringConfig `yaml:"scoring"`

	// Strategy evolution
	Evolution EvolutionConfig `yaml:"evolution"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr          string `yaml:"addr"`
	EnableMetrics bool   `yaml:"enable_metrics"` // Expose prometheus /metrics
}

// StoreConfig configures SQLite persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// DiscoveryConfig configures the trend search source.
type DiscoveryConfig struct {
	Provider   string `yaml:"provider"` // linkup, static
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	FetchLimit int    `yaml:"fetch_limit"`
	Interval   string `yaml:"interval"` // Background fetch cadence, e.g. "15m"
	Timeout    string `yaml:"timeout"`  // Per-fetch bound, e.g. "15s"
}

// CreativeConfig configures the creative generator and its retry policy.
type CreativeConfig struct {
	Provider       string `yaml:"provider"` // gemini
	APIKey         string `yaml:"api_key"`
	TextModel      string `yaml:"text_model"`
	ImageModel     string `yaml:"image_model"`
	VideoModel     string `yaml:"video_model"`
	OutputDir      string `yaml:"output_dir"`
	MaxAttempts    int    `yaml:"max_attempts"`
	AttemptTimeout string `yaml:"attempt_timeout"` // Per-attempt bound, e.g. "60s"
	InitialBackoff string `yaml:"initial_backoff"` // Doubled per retry, e.g. "2s"
	MaxConcurrent  int    `yaml:"max_concurrent"`  // Simultaneous generations
}

// ScoringConfig configures the scoring engine.
type ScoringConfig struct {
	// Bootstrap weights for strategy version 1 when the store is empty.
	BootstrapWeights map[string]float64 `yaml:"bootstrap_weights"`
}

// EvolutionConfig configures the weight evolution cycle.
type EvolutionConfig struct {
	Step          float64 `yaml:"step"`           // Max per-weight adjustment per cycle
	CycleInterval string  `yaml:"cycle_interval"` // e.g. "1h"
	MinCampaigns  int     `yaml:"min_campaigns"`  // Completed campaigns required per cycle
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "dropforge",
		Version: "0.3.0",

		Server: ServerConfig{
			Addr:          ":8420",
			EnableMetrics: true,
		},

		Store: StoreConfig{
			DatabasePath: "data/dropforge.db",
		},

		Discovery: DiscoveryConfig{
			Provider:   "linkup",
			BaseURL:    "https://api.linkup.so/v1",
			FetchLimit: 5,
			Interval:   "30m",
			Timeout:    "15s",
		},

		Creative: CreativeConfig{
			Provider:       "gemini",
			TextModel:      "gemini-2.0-flash",
			ImageModel:     "imagen-3.0-generate-002",
			VideoModel:     "veo-2.0-generate-001",
			OutputDir:      "outputs",
			MaxAttempts:    3,
			AttemptTimeout: "60s",
			InitialBackoff: "2s",
			MaxConcurrent:  2,
		},

		Scoring: ScoringConfig{
			BootstrapWeights: map[string]float64{
				"trend":  0.6,
				"margin": 0.4,
			},
		},

		Evolution: EvolutionConfig{
			Step:          0.05,
			CycleInterval: "1h",
			MinCampaigns:  1,
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from the workspace's .dropforge/config.yaml,
// falling back to defaults when the file is absent, then applies
// environment overrides.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := ConfigPath(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigPath returns the workspace config file path.
func ConfigPath(workspace string) string {
	return filepath.Join(workspace, ".dropforge", "config.yaml")
}

// Save writes the configuration to the workspace config path.
func (c *Config) Save(workspace string) error {
	path := ConfigPath(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("LINKUP_API_KEY"); key != "" {
		c.Discovery.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Creative.APIKey = key
	}
	if addr := os.Getenv("DROPFORGE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if path := os.Getenv("DROPFORGE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if limit := os.Getenv("DROPFORGE_FETCH_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			c.Discovery.FetchLimit = n
		}
	}
	if step := os.Getenv("DROPFORGE_EVOLUTION_STEP"); step != "" {
		if f, err := strconv.ParseFloat(step, 64); err == nil && f > 0 {
			c.Evolution.Step = f
		}
	}
}

// Validate checks cross-field constraints that would otherwise only
// fail deep inside the pipeline.
func (c *Config) Validate() error {
	if c.Creative.MaxAttempts < 1 {
		return fmt.Errorf("creative.max_attempts must be >= 1, got %d", c.Creative.MaxAttempts)
	}
	if c.Evolution.Step <= 0 || c.Evolution.Step >= 1 {
		return fmt.Errorf("evolution.step must be in (0,1), got %v", c.Evolution.Step)
	}
	if c.Discovery.FetchLimit < 1 {
		return fmt.Errorf("discovery.fetch_limit must be >= 1, got %d", c.Discovery.FetchLimit)
	}
	sum := 0.0
	for name, w := range c.Scoring.BootstrapWeights {
		if w < 0 {
			return fmt.Errorf("scoring.bootstrap_weights[%s] must be non-negative, got %v", name, w)
		}
		sum += w
	}
	if len(c.Scoring.BootstrapWeights) > 0 && (sum < 0.999 || sum > 1.001) {
		return fmt.Errorf("scoring.bootstrap_weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Duration helpers - config stores human-readable strings, callers get
// parsed values with a fallback.

// DiscoveryInterval returns the parsed background fetch cadence.
func (c *Config) DiscoveryInterval() time.Duration {
	return parseDuration(c.Discovery.Interval, 30*time.Minute)
}

// DiscoveryTimeout returns the parsed per-fetch bound.
func (c *Config) DiscoveryTimeout() time.Duration {
	return parseDuration(c.Discovery.Timeout, 15*time.Second)
}

// AttemptTimeout returns the parsed per-attempt creative bound.
func (c *Config) AttemptTimeout() time.Duration {
	return parseDuration(c.Creative.AttemptTimeout, 60*time.Second)
}

// InitialBackoff returns the parsed first retry delay.
func (c *Config) InitialBackoff() time.Duration {
	return parseDuration(c.Creative.InitialBackoff, 2*time.Second)
}

// CycleInterval returns the parsed evolution cadence.
func (c *Config) CycleInterval() time.Duration {
	return parseDuration(c.Evolution.CycleInterval, time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
