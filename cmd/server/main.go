package main

import (
	"context"
	"crypto/subtle"
	"log"
	"time"

	"entitlement-api/internal/api"
	"entitlement-api/internal/apperr"
	"entitlement-api/internal/config"
	"entitlement-api/internal/database"
	"entitlement-api/internal/middleware"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging()

	// Initialize database and cache
	db, rdb, err := database.Init()
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.Close(db, rdb)

	store := database.NewStore(db)

	// Providers
	registry := services.NewProviderRegistry()
	registry.Register(services.ProviderApple, services.NewAppStoreClient())
	registry.Register(services.ProviderGoogle, services.NewGooglePlayClient())

	// Services
	cache := services.NewStatusCache(rdb, time.Duration(config.AppConfig.StatusCacheSeconds)*time.Second)
	notifier := services.NewWebhookNotifier()
	mailer := services.NewReceiptMailer()
	catalog := services.NewCatalogService(store)
	ledger := services.NewTransactionLedger(store)
	entitlements := services.NewEntitlementService(store, cache, notifier, mailer)
	reconciler := services.NewReconcileService(store, registry, catalog, ledger, entitlements, cache)
	subscriptions := services.NewSubscriptionService(store, cache, notifier)

	handler := &api.Handler{
		Registry:      registry,
		Catalog:       catalog,
		Ledger:        ledger,
		Entitlements:  entitlements,
		Reconciler:    reconciler,
		Subscriptions: subscriptions,
	}

	// Set Gin mode
	gin.SetMode(config.AppConfig.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	api.SetupRoutes(r, handler, apiTokenVerifier())

	// Start server
	port := config.AppConfig.Port
	logging.Infof("Starting server on port %s", port)

	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// apiTokenVerifier checks bearer tokens against the configured static API
// token. With no token configured, auth is disabled (local development).
func apiTokenVerifier() middleware.TokenVerifier {
	expected := config.AppConfig.APIToken
	if expected == "" {
		logging.Infof("API_TOKEN not set, running without authentication")
		return nil
	}
	return middleware.TokenVerifierFunc(func(ctx context.Context, token string) error {
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			return &apperr.ValidationError{Message: "invalid token"}
		}
		return nil
	})
}
