package api

import (
	"net/http"

	"skill-barter/messaging/internal/store"

	"github.com/gin-gonic/gin"
)

// ChatHandler serves message history and the inbox.
type ChatHandler struct {
	store *store.Store
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(s *store.Store) *ChatHandler {
	return &ChatHandler{store: s}
}

// Conversations returns {"conversations": [...]}, one row per partner.
func (h *ChatHandler) Conversations(c *gin.Context) {
	id, ok := currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": h.store.Summaries(id)})
}

// RequestHistory returns the messages of one trade negotiation.
func (h *ChatHandler) RequestHistory(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	reqID, ok := idParam(c, "id")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.store.RequestHistory(reqID))
}

// DirectHistory returns everything exchanged with another user.
func (h *ChatHandler) DirectHistory(c *gin.Context) {
	self, ok := currentUser(c)
	if !ok {
		return
	}
	partner, ok := idParam(c, "id")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.store.DirectHistory(self, partner))
}
