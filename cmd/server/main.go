package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skill-barter/messaging/pkg/config"
	"skill-barter/messaging/pkg/di"
	"skill-barter/messaging/pkg/logger"
	"skill-barter/messaging/pkg/router"
	"skill-barter/messaging/pkg/telemetry"

	"github.com/gin-gonic/gin"
)

func main() {
	// Loads .env if present
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format == "json"
	log := logger.New(logConfig)

	log.Info("Starting relay server", "version", os.Getenv("APP_VERSION"), "seed_demo", cfg.DevServer.SeedDemo)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	var err error
	shutdownTracing := telemetry.Shutdown(nil)
	if cfg.Telemetry.Tracing {
		shutdownTracing, err = telemetry.SetupTracing(cfg.Telemetry.ServiceName, os.Stdout)
		if err != nil {
			log.LogError(err, "Failed to initialize tracing")
			os.Exit(1)
		}
	}

	container, err := di.New(cfg, log, di.Options{SeedDemo: cfg.DevServer.SeedDemo})
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	r, err := router.New(ctx, container)
	if err != nil {
		log.LogError(err, "Failed to initialize router")
		os.Exit(1)
	}
	r.SetupRoutes()

	srv := &http.Server{
		Addr:              cfg.DevServer.Addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		log.Info("Server starting", "addr", cfg.DevServer.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down server...")

	// Stop the hub first so websocket clients see the close
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if err := telemetry.Join(container.Close, shutdownTracing)(shutdownCtx); err != nil {
		log.LogError(err, "Failed to release resources")
	}

	log.Info("Server exited gracefully")
}
