package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://api.llama.fi", cfg.DefiLlamaURL)
	assert.Equal(t, "https://api.coingecko.com", cfg.CoinGeckoURL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.FetchMaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.InterCallDelay)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FETCH_MAX_ATTEMPTS", "5")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("SLOW_PROTOCOLS", "curve, lido")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5, cfg.FetchMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, []string{"curve", "lido"}, cfg.SlowProtocols)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_FLOAT", "2.5")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD_INT", "not-a-number")

	assert.Equal(t, "value", GetEnvOrDefault("TEST_STRING", "default"))
	assert.Equal(t, "default", GetEnvOrDefault("TEST_UNSET", "default"))

	assert.Equal(t, 42, GetEnvAsInt("TEST_INT", 1))
	assert.Equal(t, 1, GetEnvAsInt("TEST_BAD_INT", 1))
	assert.Equal(t, 1, GetEnvAsInt("TEST_UNSET", 1))

	assert.Equal(t, 2.5, GetEnvAsFloat("TEST_FLOAT", 1.0))
	assert.Equal(t, 90*time.Second, GetEnvAsDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, GetEnvAsDuration("TEST_UNSET", time.Second))
}

func TestGetEnvAsList(t *testing.T) {
	t.Setenv("TEST_LIST", "a, b ,c")
	t.Setenv("TEST_EMPTY", "  ")

	assert.Equal(t, []string{"a", "b", "c"}, GetEnvAsList("TEST_LIST", nil))
	assert.Nil(t, GetEnvAsList("TEST_EMPTY", nil))
	assert.Equal(t, []string{"x"}, GetEnvAsList("TEST_UNSET", []string{"x"}))
}
