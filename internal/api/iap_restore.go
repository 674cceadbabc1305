package api

import (
	"net/http"

	"entitlement-api/internal/response"
	"entitlement-api/internal/services"

	"github.com/gin-gonic/gin"
)

// RestorePurchasesRequest represents a restore request. Transaction ids are
// client-submitted references from the store's purchase history.
type RestorePurchasesRequest struct {
	Platform       string   `json:"platform" binding:"required,oneof=ios android web"`
	Provider       string   `json:"provider" binding:"required"`
	UserID         string   `json:"user_id" binding:"required"`
	TransactionIDs []string `json:"transaction_ids" binding:"required,min=1"`
}

// RestorePurchasesResponse collects per-item outcomes
type RestorePurchasesResponse struct {
	Results []services.RestoreResult `json:"results"`
}

// RestorePurchases re-verifies submitted transactions and re-applies
// subscription effects. Items fail independently; the batch never aborts.
// POST /api/iap/restore
func (h *Handler) RestorePurchases(c *gin.Context) {
	var req RestorePurchasesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	results, err := h.Reconciler.Restore(c.Request.Context(), req.Platform, req.Provider, req.UserID, req.TransactionIDs)
	if err != nil {
		response.FailJSON(c, err)
		return
	}

	response.SuccessJSON(c, RestorePurchasesResponse{Results: results})
}
