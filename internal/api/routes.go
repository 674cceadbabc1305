package api

import (
	"entitlement-api/internal/middleware"
	"entitlement-api/internal/services"

	"github.com/gin-gonic/gin"
)

// Handler bundles the injected services the routes coordinate.
// Handlers are pure coordination; all invariants live in the services.
type Handler struct {
	Registry      *services.ProviderRegistry
	Catalog       *services.CatalogService
	Ledger        *services.TransactionLedger
	Entitlements  *services.EntitlementService
	Reconciler    *services.ReconcileService
	Subscriptions *services.SubscriptionService
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handler, verifier middleware.TokenVerifier) {
	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(verifier))
	{
		iap := api.Group("/iap")
		{
			iap.POST("/verify", h.VerifyPurchase)
			iap.POST("/restore", h.RestorePurchases)
		}

		subscription := api.Group("/subscription")
		{
			subscription.GET("/status", h.GetSubscriptionStatus)
			subscription.POST("/sync", h.SyncSubscription)
			subscription.POST("/cancel", h.CancelSubscription)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "entitlement-api",
		})
	})
}
