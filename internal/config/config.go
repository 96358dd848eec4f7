// Package config loads the market engine's settings from an optional .env
// file, a YAML file and environment variables, in that order of precedence
// (environment wins), then fills defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fanunits/market-engine/internal/catalog"
)

// DefaultPath is read when CONFIG_PATH is not set.
const DefaultPath = "configs/config.yaml"

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		URL         string `yaml:"url"`
		SQLitePath  string `yaml:"sqlite_path"`
		CatalogPath string `yaml:"catalog_path"`
	} `yaml:"database"`
	Redis struct {
		URL      string        `yaml:"url"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"redis"`
	Market struct {
		Origin          string        `yaml:"origin"`
		BucketSeconds   int64         `yaml:"bucket_seconds"`
		StartingBalance float64       `yaml:"starting_balance"`
		RetryAttempts   int           `yaml:"retry_attempts"`
		RetryBackoff    time.Duration `yaml:"retry_backoff"`
	} `yaml:"market"`
	Schedule struct {
		SimulatorCron string `yaml:"simulator_cron"`
	} `yaml:"schedule"`
	Limits struct {
		MaxPerInstrument int64 `yaml:"max_per_instrument"`
		MaxPerCategory   int64 `yaml:"max_per_category"`
	} `yaml:"limits"`
	Seed []catalog.NewInstrument `yaml:"seed"`
}

// Load reads .env (if present), then the YAML file at path (a missing file
// is tolerated), then applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env", "err", err)
	}

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("CATALOG_PATH"); v != "" {
		cfg.Database.CatalogPath = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SIMULATOR_CRON"); v != "" {
		cfg.Schedule.SimulatorCron = v
	}
	if v := os.Getenv("BUCKET_SECONDS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("BUCKET_SECONDS: %w", err)
		}
		cfg.Market.BucketSeconds = n
	}
	if v := os.Getenv("STARTING_BALANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("STARTING_BALANCE: %w", err)
		}
		cfg.Market.StartingBalance = f
	}

	// Defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Redis.CacheTTL == 0 {
		cfg.Redis.CacheTTL = 30 * time.Second
	}
	if cfg.Market.Origin == "" {
		cfg.Market.Origin = "2025-01-01T00:00:00Z"
	}
	if cfg.Market.BucketSeconds == 0 {
		cfg.Market.BucketSeconds = 3600
	}
	if cfg.Market.StartingBalance == 0 {
		cfg.Market.StartingBalance = 1000
	}
	if cfg.Market.RetryAttempts == 0 {
		cfg.Market.RetryAttempts = 8
	}
	if cfg.Market.RetryBackoff == 0 {
		cfg.Market.RetryBackoff = 5 * time.Millisecond
	}
	if cfg.Schedule.SimulatorCron == "" {
		cfg.Schedule.SimulatorCron = "0 * * * * *"
	}

	return cfg, nil
}

// Validate checks that the loaded values are usable.
func (c *Config) Validate() error {
	if c.Market.BucketSeconds <= 0 {
		return fmt.Errorf("market.bucket_seconds must be positive")
	}
	if c.Market.StartingBalance < 0 {
		return fmt.Errorf("market.starting_balance must not be negative")
	}
	if _, err := c.OriginTime(); err != nil {
		return err
	}
	if c.Market.RetryAttempts < 1 {
		return fmt.Errorf("market.retry_attempts must be at least 1")
	}
	if c.Limits.MaxPerInstrument < 0 || c.Limits.MaxPerCategory < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}

// OriginTime parses the simulator origin instant.
func (c *Config) OriginTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, c.Market.Origin)
	if err != nil {
		return time.Time{}, fmt.Errorf("market.origin: %w", err)
	}
	return t.UTC(), nil
}

// Bucket returns the simulator bucket width.
func (c *Config) Bucket() time.Duration {
	return time.Duration(c.Market.BucketSeconds) * time.Second
}
