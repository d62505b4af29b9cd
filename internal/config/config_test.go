package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ALLOCATOR_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100, cfg.Cache.Capacity)
	assert.Equal(t, time.Hour, cfg.Cache.PriceTTL)
	assert.Equal(t, time.Hour, cfg.Cache.ResultTTL)
	assert.Equal(t, "", cfg.Cache.RedisAddr)
	assert.InDelta(t, 0.02, cfg.Engine.RiskFreeRate, 1e-12)
	assert.Equal(t, 252, cfg.Engine.PeriodsPerYear)
	assert.Equal(t, 20, cfg.Engine.MinPeriods)
	assert.Equal(t, 3, cfg.Provider.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.Provider.LoadTimeout)
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, "0 4 * * *", cfg.MaintenanceSchedule)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ALLOCATOR_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_CAPACITY", "2")
	t.Setenv("RESULT_CACHE_TTL", "30m")
	t.Setenv("RISK_FREE_RATE", "0.035")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("PERIODS_PER_YEAR", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2, cfg.Cache.Capacity)
	assert.Equal(t, 30*time.Minute, cfg.Cache.ResultTTL)
	assert.InDelta(t, 0.035, cfg.Engine.RiskFreeRate, 1e-12)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 252, cfg.Engine.PeriodsPerYear, "invalid values fall back to defaults")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:   8080,
			Cache:  CacheConfig{Capacity: 100, PriceTTL: time.Hour, ResultTTL: time.Hour},
			Engine: EngineConfig{RiskFreeRate: 0.02, PeriodsPerYear: 252, MinPeriods: 20},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Port = 0 }, true},
		{"zero capacity", func(c *Config) { c.Cache.Capacity = 0 }, true},
		{"zero ttl", func(c *Config) { c.Cache.PriceTTL = 0 }, true},
		{"percentage risk-free rate", func(c *Config) { c.Engine.RiskFreeRate = 2 }, true},
		{"negative risk-free rate", func(c *Config) { c.Engine.RiskFreeRate = -0.01 }, true},
		{"too few periods", func(c *Config) { c.Engine.MinPeriods = 1 }, true},
		{"backup without bucket", func(c *Config) { c.Backup.Enabled = true }, true},
		{"backup configured", func(c *Config) {
			c.Backup = BackupConfig{Enabled: true, Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
