// Package middleware provides HTTP middleware components.
package middleware

import (
	"errors"
	"strings"

	"skill-barter/messaging/pkg/auth"
	apperrors "skill-barter/messaging/pkg/errors"

	"github.com/gin-gonic/gin"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "userID"

// TokenValidator turns a bearer token into a user id.
type TokenValidator interface {
	Validate(token string) (int64, error)
}

// BearerAuth rejects requests without a valid "Authorization: Bearer"
// header and stores the caller's id under UserIDKey.
func BearerAuth(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.Error(apperrors.Unauthorized("AUTH_REQUIRED", "Missing or invalid Authorization header"))
			c.Abort()
			return
		}

		userID, err := v.Validate(strings.TrimSpace(token))
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "Token has expired"
			}
			c.Error(apperrors.Unauthorized("INVALID_TOKEN", msg).Wrap(err))
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// CurrentUser returns the id BearerAuth stored, or 0.
func CurrentUser(c *gin.Context) int64 {
	return c.GetInt64(UserIDKey)
}
