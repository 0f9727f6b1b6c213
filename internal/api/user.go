package api

import (
	"net/http"

	"skill-barter/messaging/internal/store"
	apperrors "skill-barter/messaging/pkg/errors"

	"github.com/gin-gonic/gin"
)

// UserHandler serves profile lookups.
type UserHandler struct {
	store *store.Store
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(s *store.Store) *UserHandler {
	return &UserHandler{store: s}
}

// Me returns the authenticated user.
func (h *UserHandler) Me(c *gin.Context) {
	id, ok := currentUser(c)
	if !ok {
		return
	}
	h.respond(c, id)
}

// Get returns any user by id.
func (h *UserHandler) Get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	h.respond(c, id)
}

func (h *UserHandler) respond(c *gin.Context, id int64) {
	user, err := h.store.User(id)
	if err != nil {
		c.Error(apperrors.NotFound("USER_NOT_FOUND", "User not found"))
		return
	}
	c.JSON(http.StatusOK, user)
}
