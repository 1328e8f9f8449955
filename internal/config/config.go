package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Feed drivers
const (
	FeedPostgres = "postgres"
	FeedNATS     = "nats"
)

type Config struct {
	Port        string
	LogLevel    string
	CORSOrigins string

	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	// IdentityJWTSecret verifies identity provider tokens; defaults to JWTSecret
	IdentityJWTSecret string
	SecureCookies     bool

	// Change feed
	FeedDriver  string
	FeedChannel string
	NATSURL     string

	// Reconciliation timing
	PollInterval  time.Duration
	PollDebounce  time.Duration
	MergeDebounce time.Duration
	SessionIdle   time.Duration
}

func Load() Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return Config{
		Port:        getenv("PORT", "8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		CORSOrigins: getenv("CORS_ORIGINS", "http://localhost:3000"),

		DatabaseURL: getenv("DATABASE_URL", ""),
		RedisURL:    getenv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:   getenv("JWT_SECRET", ""),

		IdentityJWTSecret: getenv("IDENTITY_JWT_SECRET", ""),
		SecureCookies:     getenv("SECURE_COOKIES", "false") == "true",

		FeedDriver:  strings.ToLower(getenv("FEED_DRIVER", FeedPostgres)),
		FeedChannel: getenv("FEED_CHANNEL", "presence_changes"),
		NATSURL:     getenv("NATS_URL", "nats://127.0.0.1:4222"),

		PollInterval:  getenvMillis("POLL_INTERVAL_MS", 5000),
		PollDebounce:  getenvMillis("POLL_DEBOUNCE_MS", 300),
		MergeDebounce: getenvMillis("MERGE_DEBOUNCE_MS", 1500),
		SessionIdle:   getenvMillis("SESSION_IDLE_MS", 30000),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvMillis(key string, fallback int) time.Duration {
	return time.Duration(getenvInt(key, fallback)) * time.Millisecond
}
