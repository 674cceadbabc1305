package api

import (
	"net/http"

	"entitlement-api/internal/response"

	"github.com/gin-gonic/gin"
)

// GetSubscriptionStatus returns the user's current subscription state
// GET /api/subscription/status?user_id=xxx
func (h *Handler) GetSubscriptionStatus(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "user_id is required")
		return
	}

	status, err := h.Subscriptions.GetStatus(c.Request.Context(), userID)
	if err != nil {
		response.FailJSON(c, err)
		return
	}

	response.SuccessJSON(c, status)
}
