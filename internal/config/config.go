// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Base URLs for the upstream data sources
	DefiLlamaURL string
	CoinGeckoURL string

	// Per-request HTTP timeout against the upstream APIs
	RequestTimeout time.Duration

	// Total attempts per fetch, including the first request
	FetchMaxAttempts int

	// Base unit for the exponential backoff schedule
	BackoffUnit time.Duration

	// Result cache settings
	CacheTTL        time.Duration
	CacheMaxEntries int

	// Delay between the TVL and market calls for one protocol
	InterCallDelay time.Duration

	// Comparison throttle: per-protocol step delay, extra delay for slow
	// protocols, and the ids considered slow
	CompareStepDelay time.Duration
	CompareSlowDelay time.Duration
	SlowProtocols    []string

	// Token-bucket gate for outbound comparison calls and the HTTP surface
	RateLimitRPS   float64
	RateLimitBurst int

	// Circuit breaker settings for the upstream clients
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	// JSON override for the protocol registry
	ProtocolsJSON string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string
}

// Load creates a new Config from environment variables
func Load() Config {
	return Config{
		Port:                    GetEnvOrDefault("PORT", "8080"),
		DefiLlamaURL:            GetEnvOrDefault("DEFILLAMA_URL", "https://api.llama.fi"),
		CoinGeckoURL:            GetEnvOrDefault("COINGECKO_URL", "https://api.coingecko.com"),
		RequestTimeout:          GetEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		FetchMaxAttempts:        GetEnvAsInt("FETCH_MAX_ATTEMPTS", 3),
		BackoffUnit:             GetEnvAsDuration("BACKOFF_UNIT", time.Second),
		CacheTTL:                GetEnvAsDuration("CACHE_TTL", 10*time.Minute),
		CacheMaxEntries:         GetEnvAsInt("CACHE_MAX_ENTRIES", 256),
		InterCallDelay:          GetEnvAsDuration("INTER_CALL_DELAY", 500*time.Millisecond),
		CompareStepDelay:        GetEnvAsDuration("COMPARE_STEP_DELAY", time.Second),
		CompareSlowDelay:        GetEnvAsDuration("COMPARE_SLOW_DELAY", 2*time.Second),
		SlowProtocols:           GetEnvAsList("SLOW_PROTOCOLS", nil),
		RateLimitRPS:            GetEnvAsFloat("RATE_LIMIT_RPS", 10.0),
		RateLimitBurst:          GetEnvAsInt("RATE_LIMIT_BURST", 20),
		BreakerFailureThreshold: GetEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         GetEnvAsDuration("BREAKER_COOLDOWN", 5*time.Minute),
		ProtocolsJSON:           os.Getenv("PROTOCOLS_JSON"),
		OtelEndpoint:            GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvAsList retrieves a comma-separated environment variable as a string slice
func GetEnvAsList(key string, defaultValue []string) []string {
	if value, exists := GetEnv(key); exists && strings.TrimSpace(value) != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}
