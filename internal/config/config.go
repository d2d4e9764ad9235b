// Package config provides configuration management for the ticker enrichment
// service. It loads values from environment variables with sensible defaults
// and validates them before the application starts.
//
// Environment Variables:
//
// Application settings:
//   - PORT: Server port (default: 8000)
//   - LOG_LEVEL: Logging level (default: info)
//   - FINNHUB_API_KEY: Lookup provider API key (required)
//   - FINNHUB_BASE_URL: Lookup provider base URL (default: https://finnhub.io/api/v1)
//
// Redis configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Admission control:
//   - RATE_LIMIT_ENABLED: Enable per-client rate limiting (default: true)
//   - REQUESTS_PER_MINUTE: Token bucket capacity; refill rate is this value
//     spread over a minute (default: 30)
//   - BUCKET_IDLE_WINDOW: Idle window after which a client's bucket is
//     dropped (default: 1h)
//
// Enrichment pipeline:
//   - CACHE_TTL: Lifetime of cache entries (default: 24h)
//   - CONCURRENCY_LIMIT: Max simultaneous in-flight provider calls (default: 5)
//   - MAX_RETRIES: Retries after a rate-limited provider call (default: 3)
//   - PROVIDER_TIMEOUT: Per-call provider timeout (default: 10s)
//   - TYPO_CORPUS_PATH: Newline-delimited company-name corpus for the
//     spelling suggester (optional; suggester is disabled when empty)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the enrichment service.
type Config struct {
	// Application settings
	Port           string
	LogLevel       string
	FinnhubAPIKey  string
	FinnhubBaseURL string

	// Redis configuration
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	// Admission control
	RateLimitEnabled  bool
	RequestsPerMinute string
	BucketIdleWindow  string

	// Enrichment pipeline
	CacheTTL         string
	ConcurrencyLimit string
	MaxRetries       string
	ProviderTimeout  string
	TypoCorpusPath   string
}

// Load creates a new Config instance with values loaded from environment
// variables. Call Validate() on the result before use.
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8000"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		FinnhubAPIKey:  getEnv("FINNHUB_API_KEY", ""),
		FinnhubBaseURL: getEnv("FINNHUB_BASE_URL", "https://finnhub.io/api/v1"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		RateLimitEnabled:  getBoolEnv("RATE_LIMIT_ENABLED", true),
		RequestsPerMinute: getEnv("REQUESTS_PER_MINUTE", "30"),
		BucketIdleWindow:  getEnv("BUCKET_IDLE_WINDOW", "1h"),

		CacheTTL:         getEnv("CACHE_TTL", "24h"),
		ConcurrencyLimit: getEnv("CONCURRENCY_LIMIT", "5"),
		MaxRetries:       getEnv("MAX_RETRIES", "3"),
		ProviderTimeout:  getEnv("PROVIDER_TIMEOUT", "10s"),
		TypoCorpusPath:   getEnv("TYPO_CORPUS_PATH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks that required fields are present and all values parse.
func (c *Config) Validate() error {
	if c.FinnhubAPIKey == "" {
		return fmt.Errorf("FINNHUB_API_KEY environment variable is required")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}
	if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
	}

	if c.RateLimitEnabled {
		if rpm, err := strconv.Atoi(c.RequestsPerMinute); err != nil || rpm < 1 {
			return fmt.Errorf("REQUESTS_PER_MINUTE must be a positive number")
		}
		if _, err := time.ParseDuration(c.BucketIdleWindow); err != nil {
			return fmt.Errorf("BUCKET_IDLE_WINDOW must be a valid duration (e.g. '1h')")
		}
	}

	if _, err := time.ParseDuration(c.CacheTTL); err != nil {
		return fmt.Errorf("CACHE_TTL must be a valid duration (e.g. '24h')")
	}
	if limit, err := strconv.Atoi(c.ConcurrencyLimit); err != nil || limit < 1 {
		return fmt.Errorf("CONCURRENCY_LIMIT must be a positive number")
	}
	if retries, err := strconv.Atoi(c.MaxRetries); err != nil || retries < 0 {
		return fmt.Errorf("MAX_RETRIES must be zero or a positive number")
	}
	if _, err := time.ParseDuration(c.ProviderTimeout); err != nil {
		return fmt.Errorf("PROVIDER_TIMEOUT must be a valid duration (e.g. '10s')")
	}

	return nil
}

// RedisDBInt returns the parsed Redis database number.
func (c *Config) RedisDBInt() int {
	db, _ := strconv.Atoi(c.RedisDB)
	return db
}

// RedisPoolSizeInt returns the parsed Redis pool size.
func (c *Config) RedisPoolSizeInt() int {
	size, _ := strconv.Atoi(c.RedisPoolSize)
	return size
}

// RequestsPerMinuteInt returns the parsed per-client request budget.
func (c *Config) RequestsPerMinuteInt() int {
	rpm, _ := strconv.Atoi(c.RequestsPerMinute)
	return rpm
}

// BucketIdleWindowDuration returns the parsed bucket idle window.
func (c *Config) BucketIdleWindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.BucketIdleWindow)
	return d
}

// CacheTTLDuration returns the parsed cache TTL.
func (c *Config) CacheTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.CacheTTL)
	return d
}

// ConcurrencyLimitInt returns the parsed provider concurrency bound.
func (c *Config) ConcurrencyLimitInt() int {
	limit, _ := strconv.Atoi(c.ConcurrencyLimit)
	return limit
}

// MaxRetriesInt returns the parsed retry budget.
func (c *Config) MaxRetriesInt() int {
	retries, _ := strconv.Atoi(c.MaxRetries)
	return retries
}

// ProviderTimeoutDuration returns the parsed provider call timeout.
func (c *Config) ProviderTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ProviderTimeout)
	return d
}
