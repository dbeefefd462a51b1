// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string

	// JWT (API bearer auth)
	JWTSecret string

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Sync pipeline
	SyncQuery          string        // Gmail search filter deciding what counts as a candidate
	SyncPageSize       int64         // listing page size
	SyncInterval       time.Duration // background scheduler tick
	SyncLeaseTTL       time.Duration // per-account run lease
	EnrichConcurrency  int           // concurrent summarize/classify slots per run
	FetchMaxRetries    int           // bounded retries for transient provider errors
	FetchRetryBackoff  time.Duration // base backoff between retries
	ProviderTimeoutSec int           // timeout per provider call

	// CORS
	AllowedOrigins []string

	// Scheduler
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 30),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/oauth/callback"),

		// Sync pipeline
		SyncQuery:          getEnv("SYNC_QUERY", "-in:archived"),
		SyncPageSize:       int64(getEnvInt("SYNC_PAGE_SIZE", 100)),
		SyncInterval:       time.Duration(getEnvInt("SYNC_INTERVAL_SEC", 300)) * time.Second,
		SyncLeaseTTL:       time.Duration(getEnvInt("SYNC_LEASE_TTL_SEC", 600)) * time.Second,
		EnrichConcurrency:  getEnvInt("ENRICH_CONCURRENCY", 4),
		FetchMaxRetries:    getEnvInt("FETCH_MAX_RETRIES", 3),
		FetchRetryBackoff:  time.Duration(getEnvInt("FETCH_RETRY_BACKOFF_MS", 500)) * time.Millisecond,
		ProviderTimeoutSec: getEnvInt("PROVIDER_TIMEOUT_SEC", 30),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		// Scheduler
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
