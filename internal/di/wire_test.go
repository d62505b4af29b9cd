package di

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/allocator/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:             t.TempDir(),
		Port:                8080,
		MaintenanceSchedule: "0 4 * * *",
		Cache: config.CacheConfig{
			Capacity:      10,
			PriceTTL:      time.Hour,
			ResultTTL:     time.Hour,
			EvictSchedule: "@every 5m",
		},
		Provider: config.ProviderConfig{
			YahooBaseURL:         "http://127.0.0.1:1",
			Timeout:              time.Second,
			HistoryRetentionDays: 3650,
			RetentionSchedule:    "30 2 * * *",
		},
		Engine: config.EngineConfig{
			RiskFreeRate:   0.02,
			PeriodsPerYear: 252,
			MinPeriods:     20,
			FrontierPoints: 20,
		},
	}
}

func TestInitializeDatabases(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	require.NotNil(t, container.HistoryDB)
	assert.FileExists(t, filepath.Join(cfg.DataDir, "history.db"))

	var name string
	err = container.HistoryDB.Conn().QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='daily_prices'",
	).Scan(&name)
	require.NoError(t, err)
}

func TestInitializeServices_RequiresDatabase(t *testing.T) {
	err := InitializeServices(&Container{}, testConfig(t), zerolog.Nop())
	assert.Error(t, err)
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.Cache)
	assert.Nil(t, container.SharedCache)
	assert.NotNil(t, container.PriceService)
	assert.NotNil(t, container.OptimizationService)
	assert.NotNil(t, container.Metrics)
	assert.Nil(t, container.BackupService)

	assert.NotNil(t, jobs.CacheEvict)
	assert.NotNil(t, jobs.HistoryRetention)
	assert.NotNil(t, jobs.HistoryMaintenance)
	assert.Nil(t, jobs.HistoryBackup)

	var names []string
	for _, status := range container.Scheduler.Status() {
		names = append(names, status.Name)
	}
	assert.Equal(t, []string{"cache_evict", "history_maintenance", "history_retention"}, names)
}

func TestWire_UnreachableRedisFallsBack(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.RedisAddr = "127.0.0.1:1"

	container, _, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.Nil(t, container.SharedCache)
}

func TestWire_BadScheduleFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.EvictSchedule = "not a schedule"

	_, _, err := Wire(cfg, zerolog.Nop())
	assert.Error(t, err)
}
