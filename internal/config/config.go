package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// API token expected by the auth middleware
	APIToken string

	// App Store Server API credentials
	AppleIssuerID    string
	AppleKeyID       string
	ApplePrivateKey  string // PEM, PKCS8 or EC
	AppleBundleID    string
	AppleAPIBaseURL  string
	AppleTokenTTLMin int

	// Subscription status cache TTL
	StatusCacheSeconds int

	// Webhook notification to the app backend
	WebhookCallbackURL string
	WebhookSecret      string

	// Brevo email configuration (purchase receipts)
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:               getEnv("PORT", "8080"),
		Mode:               getEnv("GIN_MODE", "debug"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		APIToken:           getEnv("API_TOKEN", ""),
		AppleIssuerID:      getEnv("APPLE_ISSUER_ID", ""),
		AppleKeyID:         getEnv("APPLE_KEY_ID", ""),
		ApplePrivateKey:    getEnv("APPLE_PRIVATE_KEY", ""),
		AppleBundleID:      getEnv("APPLE_BUNDLE_ID", ""),
		AppleAPIBaseURL:    getEnv("APPLE_API_BASE_URL", "https://api.storekit.itunes.apple.com"),
		AppleTokenTTLMin:   getEnvInt("APPLE_TOKEN_TTL_MINUTES", 10),
		StatusCacheSeconds: getEnvInt("STATUS_CACHE_SECONDS", 60),
		WebhookCallbackURL: getEnv("WEBHOOK_CALLBACK_URL", ""),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		BrevoAPIKey:        getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail:     getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:      getEnv("BREVO_FROM_NAME", "Entitlement Service"),
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
