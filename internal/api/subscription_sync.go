package api

import (
	"net/http"

	"entitlement-api/internal/response"

	"github.com/gin-gonic/gin"
)

// SyncSubscriptionRequest represents an on-demand re-sync request
type SyncSubscriptionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// SyncSubscription re-derives subscription state from the provider's
// authoritative renewal status
// POST /api/subscription/sync
func (h *Handler) SyncSubscription(c *gin.Context) {
	var req SyncSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	result, err := h.Reconciler.Sync(c.Request.Context(), req.UserID)
	if err != nil {
		response.FailJSON(c, err)
		return
	}

	response.SuccessJSON(c, result)
}
