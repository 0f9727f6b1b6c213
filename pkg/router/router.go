package router

import (
	"context"
	"fmt"
	"time"

	"skill-barter/messaging/internal/api"
	"skill-barter/messaging/internal/ws"
	"skill-barter/messaging/pkg/config"
	"skill-barter/messaging/pkg/di"
	"skill-barter/messaging/pkg/errors"
	"skill-barter/messaging/pkg/health"
	"skill-barter/messaging/pkg/logger"
	"skill-barter/messaging/pkg/middleware"
	"skill-barter/messaging/pkg/validator"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// Router is the relay server's HTTP surface
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Hub       *ws.Hub
	Config    *config.Config
	Health    *health.Checker

	limiter *middleware.RateLimiter
}

// New builds the engine and starts the hub, health checks and limiter
// cleanup. They stop when ctx is cancelled.
func New(ctx context.Context, container *di.Container) (*Router, error) {
	cfg := container.Config

	engine := gin.New()

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler(container.Logger))
	engine.Use(errors.RecoveryWithLogger(container.Logger))
	engine.Use(corsMiddleware())

	v, err := validator.Default()
	if err != nil {
		return nil, err
	}
	engine.Use(v.Middleware())

	limiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.DevServer.RateLimit),
		Burst:          cfg.DevServer.RateBurst,
		ExpiryDuration: time.Hour,
	})

	hubOpts := []ws.Option{
		ws.WithLegacyEvents(cfg.DevServer.LegacyEvents),
		ws.WithLogger(container.Logger),
	}
	if container.Redis != nil {
		hubOpts = append(hubOpts, ws.WithBroker(container.Redis))
	}
	hub := ws.NewHub(container.Auth, container.Store, hubOpts...)
	go hub.Run(ctx)

	checker := health.NewChecker(container.Logger, 30*time.Second)
	checker.RegisterCheck("store", true, func() (health.Status, string, error) {
		users, trades, messages := container.Store.Counts()
		return health.StatusUp, fmt.Sprintf("%d users, %d trade requests, %d messages", users, trades, messages), nil
	})
	checker.RegisterCheck("websocket", false, func() (health.Status, string, error) {
		return health.StatusUp, fmt.Sprintf("%d open connections", hub.ActiveConnections()), nil
	})
	if container.Redis != nil {
		checker.RegisterCheck("redis", false, func() (health.Status, string, error) {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := container.Redis.Ping(pingCtx); err != nil {
				return health.StatusDegraded, "deliveries stay on this instance", err
			}
			return health.StatusUp, "pub/sub reachable", nil
		})
	}
	checker.Start(ctx)

	go func() {
		<-ctx.Done()
		limiter.Stop()
	}()

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Hub:       hub,
		Config:    cfg,
		Health:    checker,
		limiter:   limiter,
	}, nil
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	s := r.Container.Store
	authHandler := api.NewAuthHandler(s, r.Container.Auth, r.Logger)
	userHandler := api.NewUserHandler(s)
	tradeHandler := api.NewTradeHandler(s, r.Logger)
	chatHandler := api.NewChatHandler(s)

	r.setupHealthRoutes()
	r.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.Container.Registry, promhttp.HandlerOpts{})))

	// Public routes (no auth required)
	public := r.Engine.Group("/auth")
	public.Use(r.limiter.Middleware())
	{
		public.POST("/signup", authHandler.Signup)
		public.POST("/login", authHandler.Login)
	}

	// Protected routes (require authentication)
	protected := r.Engine.Group("/")
	protected.Use(middleware.BearerAuth(r.Container.Auth), r.limiter.Middleware())
	{
		protected.GET("/users/me", userHandler.Me)
		protected.GET("/users/:id", userHandler.Get)

		protected.GET("/trade/requests", tradeHandler.List)
		protected.POST("/trade/requests", tradeHandler.Create)
		protected.PUT("/trade/requests/:id/accept", tradeHandler.Accept)
		protected.PUT("/trade/requests/:id/reject", tradeHandler.Reject)

		protected.GET("/chat/conversations", chatHandler.Conversations)
		protected.GET("/chat/user/:id", chatHandler.DirectHistory)
		protected.GET("/chat/:id", chatHandler.RequestHistory)
	}

	// WebSocket route; the register frame carries the credential
	r.Engine.GET("/ws", func(c *gin.Context) {
		ws.ServeWs(r.Hub, c)
	})
}

// Enhance CORS middleware to explicitly allow WebSocket-specific headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		if origin != "*" {
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
