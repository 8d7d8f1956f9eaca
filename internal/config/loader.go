package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OSRSPRICE_* environment variable overrides, and
// returns the final Config. When optional is set a missing file is not an
// error. The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after applying flags.
func Load(path string, optional bool) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OSRSPRICE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets can be injected this way without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── API ──
	setStr(&cfg.API.BaseURL, "OSRSPRICE_API_BASE_URL")
	setStr(&cfg.API.UserAgent, "OSRSPRICE_API_USER_AGENT")
	setDuration(&cfg.API.Timeout, "OSRSPRICE_API_TIMEOUT")
	setInt(&cfg.API.MaxRetries, "OSRSPRICE_API_MAX_RETRIES")
	setDuration(&cfg.API.RetryBackoff, "OSRSPRICE_API_RETRY_BACKOFF")
	setInt(&cfg.API.BulkThreshold, "OSRSPRICE_API_BULK_THRESHOLD")
	setStr(&cfg.API.Timestep, "OSRSPRICE_API_TIMESTEP")

	// ── Rate limit ──
	setStr(&cfg.RateLimit.Backend, "OSRSPRICE_RATE_LIMIT_BACKEND")
	setInt(&cfg.RateLimit.Requests, "OSRSPRICE_RATE_LIMIT_REQUESTS")
	setDuration(&cfg.RateLimit.Per, "OSRSPRICE_RATE_LIMIT_PER")
	setInt(&cfg.RateLimit.Burst, "OSRSPRICE_RATE_LIMIT_BURST")

	// ── Cache ──
	setStr(&cfg.Cache.Dir, "OSRSPRICE_CACHE_DIR")
	setDuration(&cfg.Cache.PriceTTL, "OSRSPRICE_CACHE_PRICE_TTL")
	setDuration(&cfg.Cache.HistoryTTL, "OSRSPRICE_CACHE_HISTORY_TTL")
	setStr(&cfg.Cache.Backend, "OSRSPRICE_CACHE_BACKEND")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "OSRSPRICE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OSRSPRICE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OSRSPRICE_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "OSRSPRICE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "OSRSPRICE_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "OSRSPRICE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OSRSPRICE_S3_REGION")
	setStr(&cfg.S3.Bucket, "OSRSPRICE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OSRSPRICE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OSRSPRICE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OSRSPRICE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OSRSPRICE_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Key, "OSRSPRICE_S3_KEY")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "OSRSPRICE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "OSRSPRICE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "OSRSPRICE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OSRSPRICE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OSRSPRICE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OSRSPRICE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OSRSPRICE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OSRSPRICE_POSTGRES_SSL_MODE")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "OSRSPRICE_LOG_LEVEL")
	setStr(&cfg.LogFormat, "OSRSPRICE_LOG_FORMAT")
	setInt(&cfg.Resolver.Workers, "OSRSPRICE_RESOLVER_WORKERS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
