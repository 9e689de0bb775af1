package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Database
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	// Auth
	JWTSecret string

	// Payment provider
	ProviderBaseURL   string
	ProviderSecretKey string
	WebhookSecretHash string
	ProviderTimeout   time.Duration

	// Generative-text advisor
	AdvisorBaseURL string
	AdvisorAPIKey  string
	AdvisorModel   string
	AdvisorTimeout time.Duration

	// Dispute policy
	OverdueDaysThreshold int
	MovementWindowDays   int

	// Outbox relay
	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	// Judge endpoint rate limiter
	JudgeRatePerMinute int
	JudgeRateBurst     int
}

// Load reads configuration from the environment, applying defaults. A local
// .env file is honoured when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getIntOrDefault("DB_MAX_CONNS", 16),
		DBMinConns:  getIntOrDefault("DB_MIN_CONNS", 2),

		JWTSecret: os.Getenv("JWT_SECRET"),

		ProviderBaseURL:   getEnvOrDefault("PAYMENT_PROVIDER_URL", "https://api.flutterwave.com/v3"),
		ProviderSecretKey: os.Getenv("PAYMENT_PROVIDER_SECRET_KEY"),
		WebhookSecretHash: os.Getenv("PAYMENT_WEBHOOK_SECRET_HASH"),
		ProviderTimeout:   getDurationOrDefault("PAYMENT_PROVIDER_TIMEOUT", 10*time.Second),

		AdvisorBaseURL: getEnvOrDefault("ADVISOR_API_URL", "https://api.openai.com/v1"),
		AdvisorAPIKey:  os.Getenv("ADVISOR_API_KEY"),
		AdvisorModel:   getEnvOrDefault("ADVISOR_MODEL", "gpt-4o-mini"),
		AdvisorTimeout: getDurationOrDefault("ADVISOR_TIMEOUT", 8*time.Second),

		OverdueDaysThreshold: getIntOrDefault("DISPUTE_OVERDUE_DAYS", 14),
		MovementWindowDays:   getIntOrDefault("DISPUTE_MOVEMENT_WINDOW_DAYS", 7),

		OutboxPollInterval: getDurationOrDefault("OUTBOX_POLL_INTERVAL", 5*time.Second),
		OutboxBatchSize:    getIntOrDefault("OUTBOX_BATCH_SIZE", 50),

		JudgeRatePerMinute: getIntOrDefault("JUDGE_RATE_PER_MINUTE", 6),
		JudgeRateBurst:     getIntOrDefault("JUDGE_RATE_BURST", 3),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDurationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
