package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Notify   NotifyConfig
	Voting   VotingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings. Driver "memory"
// selects the in-memory store for database-less development.
type DatabaseConfig struct {
	Driver   string
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/flashtalks?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings. Empty Addr means single-instance
// mode with cross-instance fan-out disabled.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NotifyConfig holds notification hub and connection registry settings.
type NotifyConfig struct {
	HistoryCapacity    int // bounded notification history (FIFO eviction)
	ReplayCount        int // notifications replayed to a late joiner
	HeartbeatSeconds   int // keep-alive frame interval
	IdleTimeoutSeconds int // channel idle longer than this is dropped by the sweep
	SweepSeconds       int // idle sweep interval
}

// VotingConfig holds voting session defaults.
type VotingConfig struct {
	DefaultDurationSeconds int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/flashtalks?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "flashtalks"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Notify: NotifyConfig{
			HistoryCapacity:    getEnvInt("NOTIFY_HISTORY_CAPACITY", 1000),
			ReplayCount:        getEnvInt("NOTIFY_REPLAY_COUNT", 10),
			HeartbeatSeconds:   getEnvInt("NOTIFY_HEARTBEAT_SEC", 30),
			IdleTimeoutSeconds: getEnvInt("NOTIFY_IDLE_TIMEOUT_SEC", 120),
			SweepSeconds:       getEnvInt("NOTIFY_SWEEP_SEC", 60),
		},
		Voting: VotingConfig{
			DefaultDurationSeconds: getEnvInt("VOTING_DEFAULT_DURATION_SEC", 60),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
