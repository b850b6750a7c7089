package configs

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Redis    RedisConfig
	Telegram TelegramConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port    string
	OpsAddr string
	Env     string
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	Driver      string // sqlite, postgres or memory
	SQLitePath  string
	DatabaseURL string
}

// RedisConfig holds Redis configuration. An empty URL means in-process locking.
type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

// TelegramConfig holds bot configuration. An empty token disables the bot.
type TelegramConfig struct {
	BotToken string
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds the gauge sampler schedule
type MetricsConfig struct {
	SampleCron string
}

// Store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    getEnv("PORT", "8080"),
			OpsAddr: getEnv("OPS_ADDR", ":9090"),
			Env:     getEnv("GO_ENV", "development"),
		},
		Store: StoreConfig{
			Driver:      getEnv("STORE_DRIVER", DriverSQLite),
			SQLitePath:  getEnv("SQLITE_PATH", "./tradeguard.sqlite"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL:     getEnv("REDIS_URL", ""),
			LockTTL: time.Duration(getEnvInt("LOCK_TTL_MS", 5000)) * time.Millisecond,
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			SampleCron: getEnv("METRICS_SAMPLE_CRON", "@every 1m"),
		},
	}
}

// IsProduction reports whether GO_ENV is production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt parses an integer variable; unset or malformed values fall back to the default
func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}
