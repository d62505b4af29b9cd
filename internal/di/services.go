// Package di provides dependency injection for services.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/allocator/internal/cache"
	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/metrics"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/prices"
	"github.com/aristath/allocator/internal/reliability"
	"github.com/aristath/allocator/internal/scheduler"
	"github.com/rs/zerolog"
)

// InitializeServices creates the cache, clients and services
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.HistoryDB == nil {
		return fmt.Errorf("container must hold an initialized history database")
	}

	container.Metrics = metrics.New()

	// ==========================================
	// CACHE
	// ==========================================
	container.Cache = cache.New(cfg.Cache.Capacity,
		cache.WithDefaultTTL(cfg.Cache.ResultTTL),
		cache.WithLogger(log),
	)

	// Redis is optional; the engine keeps working on the local tier alone
	var shared cache.Store
	if cfg.Cache.RedisAddr != "" {
		store, err := cache.NewRedisStore(cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddr,
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.RedisKeyPrefix,
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("Shared cache unavailable, using in-process cache only")
		} else {
			container.SharedCache = store
			shared = store
		}
	}

	// ==========================================
	// PRICES
	// ==========================================
	container.HistoryRepo = prices.NewHistoryRepository(container.HistoryDB.Conn())
	container.YahooClient = prices.NewYahooClient(cfg.Provider.YahooBaseURL, cfg.Provider.Timeout, log)
	container.PriceService = prices.NewService(
		container.HistoryRepo,
		container.YahooClient,
		container.Cache,
		prices.ServiceConfig{
			MaxRetries:     cfg.Provider.MaxRetries,
			RetryBaseDelay: cfg.Provider.RetryBaseDelay,
			CacheTTL:       cfg.Cache.PriceTTL,
			MaxConcurrent:  cfg.Provider.MaxConcurrentFetches,
			LoadTimeout:    cfg.Provider.LoadTimeout,
		},
		log,
	)

	// ==========================================
	// OPTIMIZATION
	// ==========================================
	container.Engine = optimization.NewEngine(log)
	results := cache.NewTiered[optimization.Response](container.Cache, shared, "result", log)
	container.OptimizationService = optimization.NewService(
		container.Engine,
		container.PriceService,
		results,
		container.Metrics,
		optimization.ServiceConfig{
			RiskFreeRate:   cfg.Engine.RiskFreeRate,
			PeriodsPerYear: cfg.Engine.PeriodsPerYear,
			MinPeriods:     cfg.Engine.MinPeriods,
			FrontierPoints: cfg.Engine.FrontierPoints,
			ResultTTL:      cfg.Cache.ResultTTL,
		},
		log,
	)

	// ==========================================
	// BACKUPS
	// ==========================================
	if cfg.Backup.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s3Client, err := reliability.NewS3Client(ctx, reliability.S3Config{
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			Bucket:          cfg.Backup.Bucket,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup client: %w", err)
		}
		container.BackupService = reliability.NewBackupService(
			s3Client,
			[]reliability.Snapshotter{container.HistoryDB},
			cfg.DataDir,
			cfg.Backup.Retain,
			log,
		)
	}

	container.Scheduler = scheduler.New(log)

	log.Info().
		Bool("shared_cache", container.SharedCache != nil).
		Bool("backups", container.BackupService != nil).
		Msg("Services initialized")

	return nil
}
