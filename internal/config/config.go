package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the sync engine process.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	DBMaxConns     int
	DBConnLifetime time.Duration

	RemoteBaseURL      string
	RemoteClientID     string
	RemoteClientSecret string
	RemoteTimeout      time.Duration

	QueueName    string
	BatchSize    int
	NumWorkers   int
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	PollInterval time.Duration
	ClaimTimeout time.Duration

	RetentionPeriod time.Duration
	SweepInterval   time.Duration
}

// Load reads configuration from environment variables. A local .env file is
// loaded first when present so development setups do not need exported vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := getEnv("DATABASE_URL", "")
	redisURL := getEnv("REDIS_URL", "")
	remoteURL := getEnv("REMOTE_BASE_URL", "")

	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if remoteURL == "" {
		return nil, fmt.Errorf("REMOTE_BASE_URL is required")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: dbURL,
		RedisURL:    redisURL,

		DBMaxConns:     getEnvInt("DB_MAX_CONNS", 10),
		DBConnLifetime: getEnvDuration("DB_CONN_LIFETIME", time.Hour),

		RemoteBaseURL:      remoteURL,
		RemoteClientID:     getEnv("REMOTE_CLIENT_ID", ""),
		RemoteClientSecret: getEnv("REMOTE_CLIENT_SECRET", ""),
		RemoteTimeout:      getEnvDuration("REMOTE_TIMEOUT", 10*time.Second),

		QueueName:    getEnv("QUEUE_NAME", "integration"),
		BatchSize:    getEnvInt("BATCH_SIZE", 20),
		NumWorkers:   getEnvInt("NUM_WORKERS", 8),
		MaxRetries:   getEnvInt("MAX_RETRIES", 5),
		BackoffBase:  getEnvDuration("BACKOFF_BASE", 30*time.Second),
		BackoffCap:   getEnvDuration("BACKOFF_CAP", 30*time.Minute),
		PollInterval: getEnvDuration("POLL_INTERVAL", 5*time.Second),
		ClaimTimeout: getEnvDuration("CLAIM_TIMEOUT", 5*time.Minute),

		RetentionPeriod: getEnvDuration("RETENTION_PERIOD", 30*24*time.Hour),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", time.Hour),
	}, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
