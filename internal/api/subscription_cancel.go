package api

import (
	"net/http"

	"entitlement-api/internal/response"

	"github.com/gin-gonic/gin"
)

// CancelSubscriptionRequest represents a cancel request
type CancelSubscriptionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// CancelSubscription expires the user's current subscription row now
// POST /api/subscription/cancel
func (h *Handler) CancelSubscription(c *gin.Context) {
	var req CancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	status, err := h.Subscriptions.Cancel(c.Request.Context(), req.UserID)
	if err != nil {
		response.FailJSON(c, err)
		return
	}

	response.SuccessJSON(c, status)
}
