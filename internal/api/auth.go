// Package api holds the REST handlers of the local relay server.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"skill-barter/messaging/internal/store"
	"skill-barter/messaging/pkg/auth"
	apperrors "skill-barter/messaging/pkg/errors"
	"skill-barter/messaging/pkg/logger"
	"skill-barter/messaging/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues development tokens. There are no passwords: knowing
// a username is enough.
type AuthHandler struct {
	store  *store.Store
	auth   *auth.Service
	logger *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(s *store.Store, svc *auth.Service, log *logger.Logger) *AuthHandler {
	return &AuthHandler{store: s, auth: svc, logger: log}
}

type signupRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
}

// TokenResponse is returned by signup and login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      int64  `json:"user_id"`
}

// Signup creates a user and returns a token for it.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest("INVALID_REQUEST", "Invalid request format"))
		return
	}

	user, err := h.store.CreateUser(strings.TrimSpace(req.Username), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			c.Error(apperrors.NewError(http.StatusConflict, "USER_EXISTS", "A user with this username already exists"))
			return
		}
		c.Error(err)
		return
	}

	h.respondWithToken(c, http.StatusCreated, user.ID)
}

// Login returns a token for an existing user.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest("INVALID_REQUEST", "Invalid request format"))
		return
	}

	user, err := h.store.UserByName(strings.TrimSpace(req.Username))
	if err != nil {
		c.Error(apperrors.Unauthorized("INVALID_CREDENTIALS", "Unknown username"))
		return
	}

	logger.FromContext(c, h.logger).Info("User logged in", "user_id", strconv.FormatInt(user.ID, 10))
	h.respondWithToken(c, http.StatusOK, user.ID)
}

func (h *AuthHandler) respondWithToken(c *gin.Context, status int, userID int64) {
	cred, err := h.auth.Issue(userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(status, TokenResponse{AccessToken: cred.Token, TokenType: "bearer", UserID: userID})
}

// currentUser reads the id stored by middleware.BearerAuth.
func currentUser(c *gin.Context) (int64, bool) {
	id := middleware.CurrentUser(c)
	if id == 0 {
		c.Error(apperrors.Unauthorized("AUTH_REQUIRED", "Authentication required"))
		return 0, false
	}
	return id, true
}

// idParam parses a positive integer path parameter.
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.Error(apperrors.BadRequest("INVALID_ID", name+" must be a positive integer"))
		return 0, false
	}
	return id, true
}
