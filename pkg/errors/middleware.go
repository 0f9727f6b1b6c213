package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"skill-barter/messaging/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler returns a middleware that renders the first error attached
// to the gin context as {"detail": message, "code": code}.
func ErrorHandler(fallback *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := FromError(c.Errors[0].Err)
		logger.FromContext(c, fallback).Warn("request error",
			"path", c.Request.URL.Path,
			"status_code", GetStatusCode(appErr),
			"error_code", appErr.Code,
			"message", appErr.Message,
		)

		c.AbortWithStatusJSON(GetStatusCode(appErr), gin.H{
			"detail": appErr.Message,
			"code":   appErr.Code,
		})
	}
}

// RecoveryWithLogger returns a middleware that recovers from any panics
// and logs the error with the request-scoped logger if available
func RecoveryWithLogger(fallback *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.FromContext(c, fallback).Error("Panic recovered",
					"error", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"detail": "The server encountered an unexpected error",
					"code":   "SERVER_ERROR",
				})
			}
		}()

		c.Next()
	}
}
