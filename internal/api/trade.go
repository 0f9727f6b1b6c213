package api

import (
	"errors"
	"net/http"

	"skill-barter/messaging/internal/models"
	"skill-barter/messaging/internal/store"
	apperrors "skill-barter/messaging/pkg/errors"
	"skill-barter/messaging/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TradeHandler serves the trade request endpoints.
type TradeHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewTradeHandler creates a new TradeHandler
func NewTradeHandler(s *store.Store, log *logger.Logger) *TradeHandler {
	return &TradeHandler{store: s, logger: log}
}

type createTradeRequest struct {
	ReceiverID int64  `json:"receiver_id" binding:"required"`
	Skill      string `json:"skill"`
}

// List returns the caller's requests as {"sent": [...], "received": [...]}.
func (h *TradeHandler) List(c *gin.Context) {
	id, ok := currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.store.TradesFor(id))
}

// Create opens a pending request from the caller.
func (h *TradeHandler) Create(c *gin.Context) {
	id, ok := currentUser(c)
	if !ok {
		return
	}
	var req createTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest("INVALID_REQUEST", "receiver_id is required"))
		return
	}
	if req.ReceiverID == id {
		c.Error(apperrors.BadRequest("INVALID_REQUEST", "cannot trade with yourself"))
		return
	}

	trade, err := h.store.CreateTrade(id, req.ReceiverID, req.Skill)
	if err != nil {
		c.Error(apperrors.NotFound("USER_NOT_FOUND", "User not found"))
		return
	}
	logger.FromContext(c, h.logger).Info("Trade request created", "request_id", trade.ID, "receiver_id", trade.ReceiverID)
	c.JSON(http.StatusCreated, trade)
}

// Accept marks a received request as accepted, which opens its chat.
func (h *TradeHandler) Accept(c *gin.Context) {
	h.decide(c, models.TradeStatusAccepted)
}

// Reject marks a received request as rejected.
func (h *TradeHandler) Reject(c *gin.Context) {
	h.decide(c, models.TradeStatusRejected)
}

func (h *TradeHandler) decide(c *gin.Context, status string) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	reqID, ok := idParam(c, "id")
	if !ok {
		return
	}

	if _, err := h.store.SetTradeStatus(reqID, userID, status); err != nil {
		switch {
		case errors.Is(err, store.ErrTradeNotFound):
			c.Error(apperrors.NotFound("REQUEST_NOT_FOUND", "Request not found"))
		case errors.Is(err, store.ErrAlreadyProcessed):
			c.Error(apperrors.BadRequest("ALREADY_PROCESSED", "Already processed"))
		default:
			c.Error(err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
