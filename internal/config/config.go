// Package config loads the marketvault YAML configuration and applies
// environment variable overrides for provider credentials.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for marketvault.
type Config struct {
	Storage   Storage   `yaml:"storage" validate:"required"`
	Providers Providers `yaml:"providers"`
	Cache     Cache     `yaml:"cache"`
	Collector Collector `yaml:"collector"`
	Logging   Logging   `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path" validate:"required"`
	DataDir    string `yaml:"data_dir"` // parquet export root
}

// Providers holds credentials and rate-limit tiers for each upstream source.
type Providers struct {
	Alpaca AlpacaProvider `yaml:"alpaca"`
	Stooq  HTTPProvider   `yaml:"stooq"`
	Tiingo TiingoProvider `yaml:"tiingo"`
}

// AlpacaProvider configures the Alpaca market-data adapter.
type AlpacaProvider struct {
	Enabled         bool   `yaml:"enabled"`
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min" validate:"omitempty,gt=0"`
	PriorityWeight  int    `yaml:"priority_weight"`
}

// HTTPProvider configures a plain HTTP CSV/JSON adapter.
type HTTPProvider struct {
	Enabled         bool   `yaml:"enabled"`
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min" validate:"omitempty,gt=0"`
	PriorityWeight  int    `yaml:"priority_weight"`
}

// TiingoProvider configures the Tiingo adapter.
type TiingoProvider struct {
	Enabled         bool   `yaml:"enabled"`
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min" validate:"omitempty,gt=0"`
	PriorityWeight  int    `yaml:"priority_weight"`
}

// Cache configures the fetch result cache.
type Cache struct {
	TTLMinutes int    `yaml:"ttl_minutes" validate:"omitempty,gt=0"`
	RedisAddr  string `yaml:"redis_addr"` // empty => in-memory cache
	RedisDB    int    `yaml:"redis_db"`
}

// Collector controls acquisition runs.
type Collector struct {
	QualityFloor       float64 `yaml:"quality_floor" validate:"omitempty,gte=0,lte=1"`
	MaxWorkers         int     `yaml:"max_workers" validate:"omitempty,gt=0"`
	CheckpointEvery    int     `yaml:"checkpoint_every" validate:"omitempty,gt=0"`
	RequestDelayMillis int     `yaml:"request_delay_ms" validate:"omitempty,gte=0"`
	Consolidate        bool    `yaml:"consolidate"`
	ProgressPath       string  `yaml:"progress_path"`
	Interval           string  `yaml:"interval" validate:"omitempty,oneof=1m 1d"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it,
// applies environment variable overrides, fills defaults, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills zero values with working defaults so a minimal config
// file is usable.
func applyDefaults(cfg *Config) {
	if cfg.Cache.TTLMinutes == 0 {
		cfg.Cache.TTLMinutes = 15
	}
	if cfg.Collector.QualityFloor == 0 {
		cfg.Collector.QualityFloor = 0.5
	}
	if cfg.Collector.MaxWorkers == 0 {
		cfg.Collector.MaxWorkers = 4
	}
	if cfg.Collector.CheckpointEvery == 0 {
		cfg.Collector.CheckpointEvery = 10
	}
	if cfg.Collector.ProgressPath == "" {
		cfg.Collector.ProgressPath = "progress.json"
	}
	// Daily keeps the daily-only Stooq adapter in the failover set; minute
	// runs opt in explicitly.
	if cfg.Collector.Interval == "" {
		cfg.Collector.Interval = "1d"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VAULT_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("VAULT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("TIINGO_API_KEY"); v != "" {
		cfg.Providers.Tiingo.APIKey = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Providers.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Providers.Alpaca.APISecret = v
	}
}
