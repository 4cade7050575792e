package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "CASE_STORE", "TURN_LOG_STORE", "RATE_LIMIT_RPS", "USE_MEMORY_QUEUE", "TIMEZONE", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "memory", cfg.CaseStore)
	assert.Equal(t, "memory", cfg.TurnLogStore)
	assert.Equal(t, float64(20), cfg.RateLimitRPS)
	assert.True(t, cfg.UseMemoryQueue)
	assert.Equal(t, 10*time.Minute, cfg.ResponseCacheTTL)
	assert.Equal(t, "America/Toronto", cfg.Location().String())
	assert.Empty(t, cfg.CORSAllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CASE_STORE", " Salesforce ")
	t.Setenv("TURN_LOG_STORE", "DynamoDB")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("USE_MEMORY_QUEUE", "false")
	t.Setenv("RESPONSE_CACHE_TTL", "90s")
	t.Setenv("SFDC_TIMEOUT", "3s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "salesforce", cfg.CaseStore)
	assert.Equal(t, "dynamodb", cfg.TurnLogStore)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 5, cfg.RateLimitBurst)
	assert.False(t, cfg.UseMemoryQueue)
	assert.Equal(t, 90*time.Second, cfg.ResponseCacheTTL)
	assert.Equal(t, 3*time.Second, cfg.SalesforceTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("RESPONSE_CACHE_TTL", "soon")
	cfg := Load()

	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, 10*time.Minute, cfg.ResponseCacheTTL)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{Timezone: "Mars/Olympus_Mons"}
	assert.Equal(t, time.UTC, cfg.Location())
}
