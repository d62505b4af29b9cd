// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/aristath/allocator/internal/cache"
	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/modules/prices"
	"github.com/aristath/allocator/internal/reliability"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the background jobs and registers them with the
// scheduler. Returns JobInstances for manual triggering via API.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Scheduler == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	instances := &JobInstances{}

	// Drop expired cache entries
	evict := cache.NewEvictJob(container.Cache, log)
	if err := container.Scheduler.AddJob(cfg.Cache.EvictSchedule, evict); err != nil {
		return nil, fmt.Errorf("failed to register cache eviction job: %w", err)
	}
	instances.CacheEvict = evict

	// Trim stored closes beyond the retention window
	retention := prices.NewRetentionJob(container.HistoryRepo, cfg.Provider.HistoryRetentionDays, log)
	if err := container.Scheduler.AddJob(cfg.Provider.RetentionSchedule, retention); err != nil {
		return nil, fmt.Errorf("failed to register history retention job: %w", err)
	}
	instances.HistoryRetention = retention

	// Integrity check, WAL truncation and disk space
	maintenance := reliability.NewMaintenanceJob(container.HistoryDB, cfg.DataDir, log)
	if err := container.Scheduler.AddJob(cfg.MaintenanceSchedule, maintenance); err != nil {
		return nil, fmt.Errorf("failed to register maintenance job: %w", err)
	}
	instances.HistoryMaintenance = maintenance

	if container.BackupService != nil {
		backup := reliability.NewBackupJob(container.BackupService, log)
		if err := container.Scheduler.AddJob(cfg.Backup.Schedule, backup); err != nil {
			return nil, fmt.Errorf("failed to register backup job: %w", err)
		}
		instances.HistoryBackup = backup
	}

	log.Info().Int("jobs", len(container.Scheduler.Status())).Msg("Jobs registered")

	return instances, nil
}
