package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseDriver string
	DatabaseURL    string
	StoreTimeout   time.Duration

	// Redis
	RedisURL string

	// Image processor
	ProcessorURL     string
	ProcessorTimeout time.Duration

	// Rate Limiting
	DefaultRateLimitPerMinute int64
	DefaultRateLimitPerDay    int64

	// Caching
	ConfigCacheTTL time.Duration

	// Usage tracking
	UsageThrottle      time.Duration
	LogRetentionDays   int
	CleanupProbability float64
	BackgroundWorkers  int
	TaskQueueSize      int

	// Operations
	AdminToken     string
	LogFile        string
	MetricsEnabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                      getEnv("PORT", "8080"),
		Env:                       getEnv("ENV", "development"),
		DatabaseDriver:            getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:               getEnv("DATABASE_URL", ""),
		StoreTimeout:              getEnvSeconds("STORE_TIMEOUT_SECONDS", 5),
		RedisURL:                  getEnv("REDIS_URL", "redis://localhost:6379"),
		ProcessorURL:              getEnv("IMAGE_PROCESSOR_URL", ""),
		ProcessorTimeout:          getEnvSeconds("PROCESSOR_TIMEOUT_SECONDS", 30),
		DefaultRateLimitPerMinute: int64(getEnvInt("DEFAULT_RATE_LIMIT_PER_MINUTE", 60)),
		DefaultRateLimitPerDay:    int64(getEnvInt("DEFAULT_RATE_LIMIT_PER_DAY", 10000)),
		ConfigCacheTTL:            getEnvSeconds("CONFIG_CACHE_TTL_SECONDS", 60),
		UsageThrottle:             getEnvSeconds("USAGE_THROTTLE_SECONDS", 30),
		LogRetentionDays:          getEnvInt("LOG_RETENTION_DAYS", 30),
		CleanupProbability:        getEnvFloat("LOG_CLEANUP_PROBABILITY", 0.01),
		BackgroundWorkers:         getEnvInt("BACKGROUND_WORKERS", 64),
		TaskQueueSize:             getEnvInt("TASK_QUEUE_SIZE", 10000),
		AdminToken:                getEnv("ADMIN_TOKEN", ""),
		LogFile:                   getEnv("LOG_FILE", ""),
		MetricsEnabled:            getEnvBool("METRICS_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if c.CleanupProbability < 0 || c.CleanupProbability > 1 {
		return fmt.Errorf("LOG_CLEANUP_PROBABILITY must be within [0, 1], got %v", c.CleanupProbability)
	}
	if c.ConfigCacheTTL <= 0 {
		return fmt.Errorf("CONFIG_CACHE_TTL_SECONDS must be positive")
	}
	if c.BackgroundWorkers <= 0 {
		return fmt.Errorf("BACKGROUND_WORKERS must be positive")
	}
	if c.TaskQueueSize <= 0 {
		return fmt.Errorf("TASK_QUEUE_SIZE must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}
