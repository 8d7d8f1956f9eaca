// Package config defines the osrsprice configuration and provides validation
// helpers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file, then optionally overridden by OSRSPRICE_* environment variables and
// finally by command-line flags.
type Config struct {
	API       APIConfig       `toml:"api"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Cache     CacheConfig     `toml:"cache"`
	Catalog   CatalogConfig   `toml:"catalog"`
	Resolver  ResolverConfig  `toml:"resolver"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Postgres  PostgresConfig  `toml:"postgres"`
	LogLevel  string          `toml:"log_level"`
	LogFormat string          `toml:"log_format"`
}

// APIConfig describes the upstream prices API. The batching contract
// (BulkThreshold) and history bucket size are external contracts, so they
// are configuration rather than constants.
type APIConfig struct {
	BaseURL       string   `toml:"base_url"`
	UserAgent     string   `toml:"user_agent"`
	Timeout       duration `toml:"timeout"`
	MaxRetries    int      `toml:"max_retries"`
	RetryBackoff  duration `toml:"retry_backoff"`
	BulkThreshold int      `toml:"bulk_threshold"`
	Concurrency   int      `toml:"concurrency"`
	Timestep      string   `toml:"timestep"`
}

// RateLimitConfig bounds outbound calls: Requests per Per, with Burst.
type RateLimitConfig struct {
	Backend  string   `toml:"backend"`
	Requests int      `toml:"requests"`
	Per      duration `toml:"per"`
	Burst    int      `toml:"burst"`
}

// CacheConfig holds price cache parameters.
type CacheConfig struct {
	Dir          string   `toml:"dir"`
	PriceTTL     duration `toml:"price_ttl"`
	HistoryTTL   duration `toml:"history_ttl"`
	Backend      string   `toml:"backend"`
	SnapshotName string   `toml:"snapshot_name"`
}

// SnapshotPath is the file backend's snapshot location.
func (c CacheConfig) SnapshotPath() string {
	return filepath.Join(c.Dir, c.SnapshotName)
}

// MappingPath is where the item mapping document is cached.
func (c CacheConfig) MappingPath() string {
	return filepath.Join(c.Dir, "mapping.json")
}

// CatalogConfig holds item catalog parameters. Aliases maps an alias to the
// canonical item name it stands for.
type CatalogConfig struct {
	MappingMaxAge duration          `toml:"mapping_max_age"`
	Aliases       map[string]string `toml:"aliases"`
	MinScore      float64           `toml:"min_score"`
	Margin        float64           `toml:"margin"`
	MaxCandidates int               `toml:"max_candidates"`
}

// ResolverConfig holds resolver parameters.
type ResolverConfig struct {
	Workers int `toml:"workers"`
}

// RedisConfig holds Redis connection parameters, used by the redis cache
// backend and the redis rate limiter.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the s3 cache
// backend.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Key            string `toml:"key"`
}

// PostgresConfig holds connection parameters for the optional price log.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultCacheDir returns the per-user cache directory for osrsprice, or a
// relative "cache" directory when the user cache dir is unknown.
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "osrsprice")
	}
	return "cache"
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL:       "https://prices.runescape.wiki/api/v1/osrs",
			UserAgent:     "osrsprice - command line price lookup",
			Timeout:       duration{10 * time.Second},
			MaxRetries:    2,
			RetryBackoff:  duration{500 * time.Millisecond},
			BulkThreshold: 20,
			Concurrency:   4,
			Timestep:      "24h",
		},
		RateLimit: RateLimitConfig{
			Backend:  "local",
			Requests: 5,
			Per:      duration{time.Second},
			Burst:    2,
		},
		Cache: CacheConfig{
			Dir:          DefaultCacheDir(),
			PriceTTL:     duration{5 * time.Minute},
			HistoryTTL:   duration{time.Hour},
			Backend:      "file",
			SnapshotName: "prices.json",
		},
		Catalog: CatalogConfig{
			MappingMaxAge: duration{7 * 24 * time.Hour},
			Aliases:       map[string]string{},
			MinScore:      0.6,
			Margin:        0.15,
			MaxCandidates: 10,
		},
		Resolver: ResolverConfig{
			Workers: 8,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   4,
			MaxRetries: 3,
			KeyPrefix:  "osrsprice",
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
			Key:            "osrsprice/prices.json",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  0,
			RunMigrations: true,
		},
		LogLevel:  "warn",
		LogFormat: "json",
	}
}

var (
	validLogLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats   = map[string]bool{"json": true, "text": true}
	validCacheBackend = map[string]bool{"file": true, "redis": true, "s3": true, "none": true}
	validRateBackend  = map[string]bool{"local": true, "redis": true}
	validTimesteps    = map[string]bool{"5m": true, "1h": true, "6h": true, "24h": true}
)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validLogFormats[strings.ToLower(c.LogFormat)] {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: json, text)", c.LogFormat))
	}

	// API
	if c.API.BaseURL == "" {
		errs = append(errs, "api: base_url must not be empty")
	}
	if c.API.Timeout.Duration <= 0 {
		errs = append(errs, "api: timeout must be > 0")
	}
	if c.API.MaxRetries < 0 {
		errs = append(errs, "api: max_retries must be >= 0")
	}
	if c.API.BulkThreshold < 0 {
		errs = append(errs, "api: bulk_threshold must be >= 0")
	}
	if !validTimesteps[c.API.Timestep] {
		errs = append(errs, fmt.Sprintf("api: unknown timestep %q (valid: 5m, 1h, 6h, 24h)", c.API.Timestep))
	}

	// Rate limit
	if !validRateBackend[strings.ToLower(c.RateLimit.Backend)] {
		errs = append(errs, fmt.Sprintf("rate_limit: unknown backend %q (valid: local, redis)", c.RateLimit.Backend))
	}
	if c.RateLimit.Requests < 0 {
		errs = append(errs, "rate_limit: requests must be >= 0")
	}

	// Cache
	if !validCacheBackend[strings.ToLower(c.Cache.Backend)] {
		errs = append(errs, fmt.Sprintf("cache: unknown backend %q (valid: file, redis, s3, none)", c.Cache.Backend))
	}
	if c.Cache.Dir == "" {
		errs = append(errs, "cache: dir must not be empty")
	}
	if c.Cache.PriceTTL.Duration < 0 {
		errs = append(errs, "cache: price_ttl must be >= 0")
	}
	if c.Cache.SnapshotName == "" {
		errs = append(errs, "cache: snapshot_name must not be empty")
	}

	// Catalog
	if c.Catalog.Margin < 0 || c.Catalog.Margin >= 1 {
		errs = append(errs, "catalog: margin must be in [0, 1)")
	}
	if c.Catalog.MinScore < 0 || c.Catalog.MinScore > 1 {
		errs = append(errs, "catalog: min_score must be in [0, 1]")
	}

	// Resolver
	if c.Resolver.Workers < 1 {
		errs = append(errs, "resolver: workers must be >= 1")
	}

	// Backends
	if c.UsesRedis() {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if strings.ToLower(c.Cache.Backend) == "s3" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Key == "" {
			errs = append(errs, "s3: key must not be empty")
		}
	}
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// UsesRedis reports whether any configured backend needs Redis.
func (c *Config) UsesRedis() bool {
	return strings.ToLower(c.Cache.Backend) == "redis" || strings.ToLower(c.RateLimit.Backend) == "redis"
}
