// Package config provides configuration management for the market sync services.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	ESI       ESIConfig
	Sync      SyncConfig
	History   HistoryConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ESIConfig holds settings for the remote market feed.
type ESIConfig struct {
	BaseURL        string
	Datasource     string
	UserAgent      string
	RequestTimeout time.Duration
	RequestsPerSec int
	Burst          int
	// SharedBudget caps requests per second across every process sharing Redis. 0 disables it.
	SharedBudget int
}

// SyncConfig holds order sync configuration
type SyncConfig struct {
	OrdersInterval time.Duration
	FanOutLockKey  string
	FanOutLockTTL  time.Duration
	RegionLockTTL  time.Duration
	Regions        []int32 // optional allow-list; empty means every catalog region
}

// HistoryConfig holds history updater configuration
type HistoryConfig struct {
	RetentionDays int
	RunHourUTC    int
	Concurrency   int
	MaxAttempts   int
	LockKey       string
	LockTTL       time.Duration
}

// QueueConfig holds the shared job queue configuration
type QueueConfig struct {
	Key         string
	Workers     int
	PollTimeout time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	ordersInterval := getEnvAsDuration("SYNC_ORDERS_INTERVAL", 5*time.Minute)

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "market"),
				User:           getEnv("POSTGRES_USER", "market"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "market"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		ESI: ESIConfig{
			BaseURL:        strings.TrimRight(getEnv("ESI_BASE_URL", "https://esi.evetech.net/latest"), "/"),
			Datasource:     getEnv("ESI_DATASOURCE", "tranquility"),
			UserAgent:      getEnv("ESI_USER_AGENT", "market-sync/1.0"),
			RequestTimeout: getEnvAsDuration("ESI_REQUEST_TIMEOUT", 30*time.Second),
			RequestsPerSec: getEnvAsInt("ESI_REQUESTS_PER_SEC", 20),
			Burst:          getEnvAsInt("ESI_BURST", 40),
			SharedBudget:   getEnvAsInt("ESI_SHARED_BUDGET", 0),
		},
		Sync: SyncConfig{
			OrdersInterval: ordersInterval,
			FanOutLockKey:  getEnv("SYNC_LOCK_KEY", "lock:fetch_all_regions_orders"),
			FanOutLockTTL:  getEnvAsDuration("SYNC_LOCK_TTL", ordersInterval),
			RegionLockTTL:  getEnvAsDuration("SYNC_REGION_LOCK_TTL", ordersInterval),
			Regions:        getEnvAsInt32List("SYNC_REGIONS"),
		},
		History: HistoryConfig{
			RetentionDays: getEnvAsInt("HISTORY_RETENTION_DAYS", 90),
			RunHourUTC:    getEnvAsInt("HISTORY_RUN_HOUR_UTC", 1),
			Concurrency:   getEnvAsInt("HISTORY_CONCURRENCY", 8),
			MaxAttempts:   getEnvAsInt("HISTORY_MAX_ATTEMPTS", 3),
			LockKey:       getEnv("HISTORY_LOCK_KEY", "lock:fetch_all_regions_history"),
			LockTTL:       getEnvAsDuration("HISTORY_LOCK_TTL", time.Hour),
		},
		Queue: QueueConfig{
			Key:         getEnv("QUEUE_KEY", "queue:market_jobs"),
			Workers:     getEnvAsInt("QUEUE_WORKERS", 4),
			PollTimeout: getEnvAsDuration("QUEUE_POLL_TIMEOUT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Sync.OrdersInterval <= 0 {
		return fmt.Errorf("SYNC_ORDERS_INTERVAL must be positive")
	}
	if c.History.RetentionDays <= 0 {
		return fmt.Errorf("HISTORY_RETENTION_DAYS must be positive")
	}
	if c.History.RunHourUTC < 0 || c.History.RunHourUTC > 23 {
		return fmt.Errorf("HISTORY_RUN_HOUR_UTC must be between 0 and 23, got %d", c.History.RunHourUTC)
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be positive")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt32List parses a comma separated list of ids, skipping malformed entries
func getEnvAsInt32List(key string) []int32 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil
	}

	var ids []int32
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, int32(id))
	}
	return ids
}
