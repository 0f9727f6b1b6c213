package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"skill-barter/messaging/internal/store"
	"skill-barter/messaging/pkg/auth"
	"skill-barter/messaging/pkg/config"
	"skill-barter/messaging/pkg/logger"
	"skill-barter/messaging/pkg/pubsub"
	"skill-barter/messaging/pkg/secrets"
	"skill-barter/messaging/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Container holds the dependencies of the relay server
type Container struct {
	Config   *config.Config
	Logger   *logger.Logger
	Auth     *auth.Service
	Store    *store.Store
	Registry *prometheus.Registry
	Meter    *metric.MeterProvider
	// Redis is set when deliveries are shared with other instances
	Redis *pubsub.Redis
}

// Options tweaks container construction
type Options struct {
	// SeedDemo loads the demo users and trade requests
	SeedDemo bool
}

// New creates a new dependency injection container
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Container, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if log == nil {
		log = logger.New(logger.Config{Level: cfg.Logging.Level, JSON: cfg.Logging.Format == "json"})
	}

	s := store.New()
	if opts.SeedDemo {
		if err := s.SeedDemo(); err != nil {
			return nil, fmt.Errorf("failed to seed store: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	meter, err := telemetry.SetupMetrics(cfg.Telemetry.ServiceName, reg)
	if err != nil {
		return nil, err
	}

	signingKey, err := resolveSigningKey(cfg, log)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Config:   cfg,
		Logger:   log,
		Auth:     auth.NewService(signingKey, cfg.DevServer.TokenTTL),
		Store:    s,
		Registry: reg,
		Meter:    meter,
	}

	if cfg.DevServer.RedisURL != "" {
		c.Redis, err = pubsub.NewRedis(cfg.DevServer.RedisURL, cfg.DevServer.RedisChannel, log)
		if err != nil {
			return nil, fmt.Errorf("failed to configure redis: %w", err)
		}
		log.Info("cross-instance delivery enabled", "channel", cfg.DevServer.RedisChannel)
	}

	return c, nil
}

// resolveSigningKey looks up jwt_secret in Vault, then JWT_SECRET, then
// the configured value.
func resolveSigningKey(cfg *config.Config, log *logger.Logger) (string, error) {
	mgr, err := secrets.NewVaultManager(cfg, log)
	if err != nil {
		return "", fmt.Errorf("failed to configure secrets: %w", err)
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return mgr.GetSecretWithDefault(ctx, "jwt_secret", cfg.DevServer.JWTSecret), nil
}

// Close releases the container's connections and flushes telemetry.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.Meter != nil {
		errs = append(errs, c.Meter.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
