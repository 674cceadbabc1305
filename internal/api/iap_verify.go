package api

import (
	"net/http"
	"time"

	"entitlement-api/internal/response"
	"entitlement-api/internal/services"

	"github.com/gin-gonic/gin"
)

// VerifyPurchaseRequest represents a purchase verification request
type VerifyPurchaseRequest struct {
	Platform      string `json:"platform" binding:"required,oneof=ios android web"`
	Provider      string `json:"provider" binding:"required"`
	UserID        string `json:"user_id" binding:"required"`
	TransactionID string `json:"transaction_id" binding:"required"`
}

// VerifyPurchaseResponse reports the applied effect
type VerifyPurchaseResponse struct {
	TransactionID    string `json:"transaction_id"`
	AlreadyProcessed bool   `json:"already_processed"`
	Kind             string `json:"kind"`
	Plan             string `json:"plan,omitempty"`
	IsActive         bool   `json:"is_active,omitempty"`
	ExpiresAt        string `json:"expires_at,omitempty"`
	CoinsAdded       int64  `json:"coins_added,omitempty"`
	CoinsBalance     int64  `json:"coins_balance,omitempty"`
}

// VerifyPurchase verifies a provider transaction and applies its effect
// POST /api/iap/verify
func (h *Handler) VerifyPurchase(c *gin.Context) {
	var req VerifyPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}
	ctx := c.Request.Context()

	verifier, err := h.Registry.Get(req.Provider)
	if err != nil {
		response.FailJSON(c, err)
		return
	}

	record, err := verifier.VerifyTransaction(ctx, req.TransactionID)
	if err != nil {
		response.FailJSON(c, err)
		return
	}

	mapping, err := h.Catalog.Resolve(ctx, req.Platform, req.Provider, record.StoreProductID)
	if err != nil {
		response.FailJSON(c, err)
		return
	}

	row := services.NewTransactionRow(req.UserID, req.Platform, req.Provider, mapping, record)
	stored, isNew, err := h.Ledger.Recognize(ctx, row)
	if err != nil {
		response.FailJSON(c, err)
		return
	}

	effect, err := h.Entitlements.Apply(ctx, req.UserID, mapping, record, isNew)
	if err != nil {
		response.FailJSON(c, err)
		return
	}

	result := VerifyPurchaseResponse{
		TransactionID:    stored.TransactionID,
		AlreadyProcessed: effect.AlreadyProcessed,
		Kind:             effect.Kind,
		Plan:             effect.PlanKey,
		IsActive:         effect.SubscriptionActive,
		CoinsAdded:       effect.CoinsAdded,
		CoinsBalance:     effect.CoinsBalance,
	}
	if effect.ExpiresAt != nil {
		result.ExpiresAt = effect.ExpiresAt.Format(time.RFC3339)
	}
	response.SuccessJSON(c, result)
}
