/**
 * Package di provides dependency injection type definitions.
 *
 * The Container holds every long-lived dependency of the application and is
 * the single source of truth handed to the HTTP server and main.
 */
package di

import (
	"github.com/aristath/allocator/internal/cache"
	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/metrics"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/prices"
	"github.com/aristath/allocator/internal/reliability"
	"github.com/aristath/allocator/internal/scheduler"
)

/**
 * Container holds all dependencies for the application.
 *
 * Architecture:
 * - Databases: history.db (daily closes and coverage)
 * - Cache: one bounded in-process cache shared by prices and results,
 *   optionally backed by Redis
 * - Services: price provider, optimization engine and service
 * - Scheduler: cron-driven maintenance jobs
 */
type Container struct {
	// Databases
	HistoryDB *database.DB

	// Cache
	Cache       *cache.Cache
	SharedCache *cache.RedisStore // nil when Redis is not configured

	// Observability
	Metrics *metrics.Metrics

	// Repositories
	HistoryRepo *prices.HistoryRepository

	// Clients
	YahooClient *prices.YahooClient

	// Services
	PriceService        *prices.Service
	Engine              *optimization.Engine
	OptimizationService *optimization.Service
	BackupService       *reliability.BackupService // nil when backups are disabled

	// Scheduler
	Scheduler *scheduler.Scheduler
}

// JobInstances holds references to registered jobs for manual triggering
type JobInstances struct {
	CacheEvict         scheduler.Job
	HistoryRetention   scheduler.Job
	HistoryMaintenance scheduler.Job
	HistoryBackup      scheduler.Job // nil when backups are disabled
}

// Close releases databases and network clients held by the container
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var firstErr error
	if c.SharedCache != nil {
		if err := c.SharedCache.Close(); err != nil {
			firstErr = err
		}
	}
	if c.HistoryDB != nil {
		if err := c.HistoryDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
