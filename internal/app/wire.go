package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	s3blob "github.com/alanyoungcy/osrsprice/internal/blob/s3"
	"github.com/alanyoungcy/osrsprice/internal/cache"
	"github.com/alanyoungcy/osrsprice/internal/cache/redis"
	"github.com/alanyoungcy/osrsprice/internal/catalog"
	"github.com/alanyoungcy/osrsprice/internal/config"
	"github.com/alanyoungcy/osrsprice/internal/domain"
	"github.com/alanyoungcy/osrsprice/internal/platform/osrswiki"
	"github.com/alanyoungcy/osrsprice/internal/ratelimit"
	"github.com/alanyoungcy/osrsprice/internal/service"
	"github.com/alanyoungcy/osrsprice/internal/store/postgres"
)

// flushTimeout bounds the shutdown flush. It runs on a fresh context because
// the run context may already be cancelled by an interrupt.
const flushTimeout = 10 * time.Second

// Dependencies bundles everything a run needs. It is constructed by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	Catalog  *catalog.Catalog
	Cache    *cache.Store
	Source   *osrswiki.Client
	Limiter  domain.RateLimiter
	Recorder domain.PriceRecorder
	Resolver *service.Resolver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. The cleanup flushes the price
// cache before any backend connection is closed.
func Wire(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	runID uuid.UUID,
	refreshMapping bool,
) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis (shared cache backend and/or rate limiter) ---
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		redisClient = rc
		closers = append(closers, func() {
			if err := rc.Close(); err != nil {
				logger.Warn("redis close failed", slog.String("error", err.Error()))
			}
		})
		logger.Info("redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// --- Rate limiter ---
	switch strings.ToLower(cfg.RateLimit.Backend) {
	case "redis":
		deps.Limiter = redis.NewRateLimiter(redisClient, "wiki", cfg.RateLimit.Requests, cfg.RateLimit.Per.Duration)
	default:
		deps.Limiter = ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Per.Duration, cfg.RateLimit.Burst)
	}

	// --- Price source ---
	deps.Source = osrswiki.NewClient(cfg.API.BaseURL, cfg.API.UserAgent,
		osrswiki.WithTimeout(cfg.API.Timeout.Duration),
		osrswiki.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff.Duration),
		osrswiki.WithRateLimiter(deps.Limiter),
		osrswiki.WithBulkThreshold(cfg.API.BulkThreshold),
		osrswiki.WithConcurrency(cfg.API.Concurrency),
		osrswiki.WithTimestep(cfg.API.Timestep),
		osrswiki.WithLogger(logger),
	)

	// --- Snapshot backend ---
	snapshots, err := wireSnapshots(ctx, cfg, redisClient)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: snapshot backend: %w", err)
	}

	// --- Cache ---
	cacheOpts := []cache.Option{cache.WithSnapshotStore(snapshots), cache.WithLogger(logger)}
	if redisClient != nil && sharedSnapshot(cfg.Cache.Backend) {
		cacheOpts = append(cacheOpts, cache.WithLockManager(redis.NewLockManager(redisClient)))
	}
	deps.Cache = cache.New(cacheOpts...)
	deps.Cache.Load(ctx)
	closers = append(closers, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := deps.Cache.Flush(flushCtx); err != nil {
			logger.Warn("cache flush failed", slog.String("error", err.Error()))
		}
	})

	// --- Catalog ---
	deps.Catalog, err = catalog.Load(ctx, deps.Source, catalog.LoadConfig{
		Path:         cfg.Cache.MappingPath(),
		MaxAge:       cfg.Catalog.MappingMaxAge.Duration,
		ForceRefresh: refreshMapping,
		Aliases:      cfg.Catalog.Aliases,
		Options: catalog.Options{
			MinScore:      cfg.Catalog.MinScore,
			Margin:        cfg.Catalog.Margin,
			MaxCandidates: cfg.Catalog.MaxCandidates,
		},
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	// --- PostgreSQL price log (optional) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Recorder = postgres.NewPriceLogStore(pgClient.Pool(), runID)
	}

	// --- Resolver ---
	deps.Resolver = service.NewResolver(deps.Catalog, deps.Cache, deps.Source, deps.Recorder,
		service.ResolverConfig{
			PriceTTL:   cfg.Cache.PriceTTL.Duration,
			HistoryTTL: cfg.Cache.HistoryTTL.Duration,
			Workers:    cfg.Resolver.Workers,
		}, logger)

	return deps, cleanup, nil
}

// sharedSnapshot reports whether backend may be written by other processes
// or machines.
func sharedSnapshot(backend string) bool {
	switch strings.ToLower(backend) {
	case "redis", "s3":
		return true
	default:
		return false
	}
}

// wireSnapshots picks the snapshot backend named by cache.backend.
func wireSnapshots(ctx context.Context, cfg *config.Config, rc *redis.Client) (domain.SnapshotStore, error) {
	switch strings.ToLower(cfg.Cache.Backend) {
	case "none":
		return cache.NoopSnapshot{}, nil
	case "redis":
		if rc == nil {
			return nil, errors.New("redis backend selected without a redis client")
		}
		return redis.NewSnapshotStore(rc, cfg.Cache.SnapshotName, 0), nil
	case "s3":
		client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		if err := client.Health(ctx); err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		return s3blob.NewSnapshotStore(client, cfg.S3.Key), nil
	default:
		return cache.NewFileSnapshot(cfg.Cache.SnapshotPath()), nil
	}
}
