package router

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// setupHealthRoutes registers health check endpoints
func (r *Router) setupHealthRoutes() {
	healthHandler := func(c *gin.Context) {
		r.Health.RunChecks()

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		status, code := "ok", http.StatusOK
		if !r.Health.IsSystemHealthy() {
			status, code = "unavailable", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":     status,
			"version":    os.Getenv("APP_VERSION"),
			"timestamp":  time.Now().Format(time.RFC3339),
			"uptime":     time.Since(startTime).Round(time.Second).String(),
			"components": r.Health.Components(),
			"websocket": gin.H{
				"active_connections": r.Hub.ActiveConnections(),
			},
			"memory": gin.H{
				"alloc_mb":  memStats.Alloc / 1024 / 1024,
				"sys_mb":    memStats.Sys / 1024 / 1024,
				"gc_cycles": memStats.NumGC,
			},
		})
	}

	// Register both health endpoint paths for compatibility
	r.Engine.GET("/health", healthHandler)
	r.Engine.GET("/api/health", healthHandler)
}
