package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_URL", "")
	t.Setenv("REALTIME_URL", "")

	cfg := Load()

	assert.Equal(t, "http://localhost:8000", cfg.API.BaseURL)
	assert.Equal(t, "ws://localhost:8000/ws", cfg.Realtime.URL)
	assert.Equal(t, 54*time.Second, cfg.Realtime.PingPeriod)
	assert.Equal(t, 64, cfg.Realtime.OutboxSize)
	assert.Equal(t, uint(5), cfg.Breaker.FailureThreshold)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_URL", "https://barter.example.com/")
	t.Setenv("API_TIMEOUT", "3s")
	t.Setenv("SEND_RATE_LIMIT", "0.5")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("REALTIME_OUTBOX_SIZE", "not-a-number")
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("OTEL_TRACING", "true")

	cfg := Load()

	assert.Equal(t, "https://barter.example.com", cfg.API.BaseURL)
	assert.Equal(t, "wss://barter.example.com/ws", cfg.Realtime.URL)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, 0.5, cfg.Send.RatePerSecond)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 64, cfg.Realtime.OutboxSize)
	assert.Equal(t, "redis://cache:6379/2", cfg.DevServer.RedisURL)
	assert.Equal(t, "chat:deliveries", cfg.DevServer.RedisChannel)
	assert.True(t, cfg.Telemetry.Tracing)
}
