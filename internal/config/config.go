// internal/config/config.go
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config carries every knob the server and worker read from the
// environment. A .env file is honored when present.
type Config struct {
	DatabaseURL string
	Port        string

	GatewayBaseURL string
	GatewayToken   string
	GatewayTimeout time.Duration

	RabbitURL   string
	RabbitQueue string

	TickInterval     time.Duration
	ClaimBatchSize   int
	WorkerPoolSize   int
	TenantInFlight   int
	MaxSendAttempts  int
	StaleClaimAfter  time.Duration
	AccountCacheTTL  time.Duration
	CounterSweepSpec string

	LogLevel string
}

// Load reads configuration from the environment, applying worker defaults
// that match one dispatcher pool per process.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, relying on OS environment variables")
	}

	cfg := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		Port:             envOr("PORT", "8080"),
		GatewayBaseURL:   os.Getenv("GATEWAY_BASE_URL"),
		GatewayToken:     os.Getenv("GATEWAY_TOKEN"),
		GatewayTimeout:   envDuration("GATEWAY_TIMEOUT", 30*time.Second),
		RabbitURL:        os.Getenv("RABBITMQ_URL"),
		RabbitQueue:      envOr("RABBITMQ_QUEUE", "sequence_events"),
		TickInterval:     envDuration("TICK_INTERVAL", 60*time.Second),
		ClaimBatchSize:   envInt("CLAIM_BATCH_SIZE", 50),
		WorkerPoolSize:   envInt("WORKER_POOL_SIZE", 10),
		TenantInFlight:   envInt("TENANT_INFLIGHT_CAP", 3),
		MaxSendAttempts:  envInt("MAX_SEND_ATTEMPTS", 5),
		StaleClaimAfter:  envDuration("STALE_CLAIM_AFTER", 10*time.Minute),
		AccountCacheTTL:  envDuration("ACCOUNT_CACHE_TTL", 30*time.Second),
		CounterSweepSpec: envOr("COUNTER_SWEEP_CRON", "5 0 * * *"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer in environment, using default")
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration in environment, using default")
		return fallback
	}
	return d
}
