package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// REST data service
	API struct {
		BaseURL string
		Timeout time.Duration
	}

	// Realtime websocket channel
	Realtime struct {
		URL              string
		HandshakeTimeout time.Duration
		WriteWait        time.Duration
		PongWait         time.Duration
		PingPeriod       time.Duration
		OutboxSize       int
		EventBuffer      int
	}

	// Send pipeline throttle
	Send struct {
		RatePerSecond float64
		Burst         int
	}

	// Bearer credential. Only the CLI reads it from the environment; library
	// code receives the credential explicitly.
	Auth struct {
		Token string
	}

	// Cache settings for user lookups
	Cache struct {
		Enabled     bool
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}

	// Circuit breaker around the REST data service
	Breaker struct {
		FailureThreshold uint
		SuccessThreshold uint
		RetryTimeout     time.Duration
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Local relay server for development and integration tests
	DevServer struct {
		Addr         string
		JWTSecret    string
		TokenTTL     time.Duration
		LegacyEvents bool
		SeedDemo     bool
		RateLimit    float64
		RateBurst    int
		// RedisURL enables cross-instance delivery when set
		RedisURL     string
		RedisChannel string
	}

	// HashiCorp Vault KV v2 source for the relay's secrets
	Vault struct {
		Enabled   bool
		Address   string
		Token     string
		Namespace string
		Mount     string
		Path      string
	}

	// OpenTelemetry
	Telemetry struct {
		ServiceName string
		Tracing     bool
	}
}

var (
	instance *Config
	once     sync.Once
)

// New returns the process-wide Config, loading it on first use.
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()
		instance = Load()
	})
	return instance
}

// Load reads a fresh Config from the environment without touching the
// process-wide instance.
func Load() *Config {
	cfg := &Config{}

	cfg.API.BaseURL = strings.TrimRight(getEnvString("API_URL", "http://localhost:8000"), "/")
	cfg.API.Timeout = getEnvDuration("API_TIMEOUT", 10*time.Second)

	cfg.Realtime.URL = getEnvString("REALTIME_URL", deriveRealtimeURL(cfg.API.BaseURL))
	cfg.Realtime.HandshakeTimeout = getEnvDuration("REALTIME_HANDSHAKE_TIMEOUT", 10*time.Second)
	cfg.Realtime.WriteWait = getEnvDuration("REALTIME_WRITE_WAIT", 10*time.Second)
	cfg.Realtime.PongWait = getEnvDuration("REALTIME_PONG_WAIT", 60*time.Second)
	cfg.Realtime.PingPeriod = getEnvDuration("REALTIME_PING_PERIOD", (cfg.Realtime.PongWait*9)/10)
	cfg.Realtime.OutboxSize = getEnvInt("REALTIME_OUTBOX_SIZE", 64)
	cfg.Realtime.EventBuffer = getEnvInt("REALTIME_EVENT_BUFFER", 64)

	cfg.Send.RatePerSecond = getEnvFloat("SEND_RATE_LIMIT", 5)
	cfg.Send.Burst = getEnvInt("SEND_RATE_BURST", 10)

	cfg.Auth.Token = getEnvString("CHAT_TOKEN", "")

	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 256)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	cfg.Breaker.FailureThreshold = uint(getEnvInt("BREAKER_FAILURE_THRESHOLD", 5))
	cfg.Breaker.SuccessThreshold = uint(getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2))
	cfg.Breaker.RetryTimeout = getEnvDuration("BREAKER_RETRY_TIMEOUT", 30*time.Second)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "text")

	cfg.DevServer.Addr = getEnvString("DEVSERVER_ADDR", ":8000")
	cfg.DevServer.JWTSecret = getEnvString("JWT_SECRET", "dev-secret-do-not-use-in-production")
	cfg.DevServer.TokenTTL = getEnvDuration("JWT_TTL", 24*time.Hour)
	cfg.DevServer.LegacyEvents = getEnvBool("DEVSERVER_LEGACY_EVENTS", false)
	cfg.DevServer.SeedDemo = getEnvBool("DEVSERVER_SEED", true)
	cfg.DevServer.RateLimit = getEnvFloat("DEVSERVER_RATE_LIMIT", 20)
	cfg.DevServer.RateBurst = getEnvInt("DEVSERVER_RATE_BURST", 40)
	cfg.DevServer.RedisURL = getEnvString("REDIS_URL", "")
	cfg.DevServer.RedisChannel = getEnvString("REDIS_CHANNEL", "chat:deliveries")

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.Mount = getEnvString("VAULT_MOUNT", "secret")
	cfg.Vault.Path = getEnvString("VAULT_SECRETS_PATH", "skill-barter/relay")

	cfg.Telemetry.ServiceName = getEnvString("OTEL_SERVICE_NAME", "skill-barter-messaging")
	cfg.Telemetry.Tracing = getEnvBool("OTEL_TRACING", false)

	return cfg
}

// deriveRealtimeURL maps http(s)://host to ws(s)://host/ws.
func deriveRealtimeURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
