// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for databases (always absolute)
	Port      int
	LogLevel  string
	LogPretty bool
	DevMode   bool
	// Cron schedule for database integrity and disk space checks
	MaintenanceSchedule string
	Cache               CacheConfig
	Provider            ProviderConfig
	Engine              EngineConfig
	Backup              BackupConfig
}

// CacheConfig controls the in-process cache and the optional Redis tier.
type CacheConfig struct {
	Capacity       int
	PriceTTL       time.Duration
	ResultTTL      time.Duration
	EvictSchedule  string
	RedisAddr      string // Empty disables the shared tier
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
}

// ProviderConfig controls price retrieval.
type ProviderConfig struct {
	YahooBaseURL         string
	MaxRetries           int
	RetryBaseDelay       time.Duration
	Timeout              time.Duration
	HistoryRetentionDays int
	RetentionSchedule    string
	MaxConcurrentFetches int
	LoadTimeout          time.Duration
}

// EngineConfig holds optimizer defaults applied when a request omits them.
type EngineConfig struct {
	RiskFreeRate   float64 // Annual fraction
	PeriodsPerYear int
	MinPeriods     int
	FrontierPoints int
}

// BackupConfig controls history database backups to S3-compatible storage.
type BackupConfig struct {
	Enabled         bool
	Schedule        string
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Retain          int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ALLOCATOR_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		Port:      getEnvAsInt("PORT", 8080),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),
		DevMode:   getEnvAsBool("DEV_MODE", false),

		MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "0 4 * * *"),
		Cache: CacheConfig{
			Capacity:       getEnvAsInt("CACHE_CAPACITY", 100),
			PriceTTL:       getEnvAsDuration("PRICE_CACHE_TTL", time.Hour),
			ResultTTL:      getEnvAsDuration("RESULT_CACHE_TTL", time.Hour),
			EvictSchedule:  getEnv("CACHE_EVICT_SCHEDULE", "@every 5m"),
			RedisAddr:      getEnv("REDIS_ADDR", ""),
			RedisPassword:  getEnv("REDIS_PASSWORD", ""),
			RedisDB:        getEnvAsInt("REDIS_DB", 0),
			RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "allocator:"),
		},
		Provider: ProviderConfig{
			YahooBaseURL:         getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
			MaxRetries:           getEnvAsInt("PROVIDER_MAX_RETRIES", 3),
			RetryBaseDelay:       getEnvAsDuration("PROVIDER_RETRY_DELAY", time.Second),
			Timeout:              getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
			HistoryRetentionDays: getEnvAsInt("HISTORY_RETENTION_DAYS", 3650),
			RetentionSchedule:    getEnv("HISTORY_RETENTION_SCHEDULE", "30 2 * * *"),
			MaxConcurrentFetches: getEnvAsInt("PROVIDER_MAX_CONCURRENT", 4),
			LoadTimeout:          getEnvAsDuration("PROVIDER_LOAD_TIMEOUT", 2*time.Minute),
		},
		Engine: EngineConfig{
			RiskFreeRate:   getEnvAsFloat("RISK_FREE_RATE", 0.02),
			PeriodsPerYear: getEnvAsInt("PERIODS_PER_YEAR", 252),
			MinPeriods:     getEnvAsInt("MIN_PERIODS", 20),
			FrontierPoints: getEnvAsInt("FRONTIER_POINTS", 20),
		},
		Backup: BackupConfig{
			Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
			Schedule:        getEnv("BACKUP_SCHEDULE", "0 3 * * *"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", "auto"),
			Bucket:          getEnv("S3_BUCKET", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Retain:          getEnvAsInt("BACKUP_RETAIN", 7),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and sane
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive, got %d", c.Cache.Capacity)
	}
	if c.Cache.PriceTTL <= 0 || c.Cache.ResultTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Engine.RiskFreeRate < 0 || c.Engine.RiskFreeRate >= 1 {
		return fmt.Errorf("risk-free rate must be an annual fraction in [0, 1), got %v", c.Engine.RiskFreeRate)
	}
	if c.Engine.PeriodsPerYear <= 0 {
		return fmt.Errorf("periods per year must be positive, got %d", c.Engine.PeriodsPerYear)
	}
	if c.Engine.MinPeriods < 2 {
		return fmt.Errorf("minimum periods must be at least 2, got %d", c.Engine.MinPeriods)
	}
	if c.Provider.MaxRetries < 0 {
		return fmt.Errorf("provider retries cannot be negative")
	}
	if c.Backup.Enabled {
		if c.Backup.Bucket == "" || c.Backup.AccessKeyID == "" || c.Backup.SecretAccessKey == "" {
			return fmt.Errorf("backups enabled but S3 bucket or credentials are missing")
		}
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
