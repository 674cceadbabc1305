package services

import (
	"context"
	"time"

	"entitlement-api/internal/apperr"
)

// Provider names accepted by the registry
const (
	ProviderApple  = "apple"
	ProviderGoogle = "google"
)

// PurchaseRecord is the normalized output of a provider verification.
// Created fresh on every call; only derived fields are ever persisted.
type PurchaseRecord struct {
	TransactionID         string
	OriginalTransactionID string
	StoreProductID        string
	PurchasedAt           time.Time
	ExpiresAt             *time.Time
	Raw                   string
}

// RenewalCandidate is one transaction/renewal-info pair reported by the
// provider's subscription-status endpoint.
type RenewalCandidate struct {
	PurchaseRecord
	AutoRenew bool
}

// ProviderVerifier verifies purchases with the issuing store.
// Implementations do not retry; retries are the caller's responsibility and
// are made safe by the transaction ledger's idempotency guard.
type ProviderVerifier interface {
	VerifyTransaction(ctx context.Context, transactionID string) (*PurchaseRecord, error)
	SubscriptionStatuses(ctx context.Context, originalTransactionID string) ([]RenewalCandidate, error)
}

// ProviderRegistry maps provider names to verifier implementations, so new
// providers plug in without touching orchestration code.
type ProviderRegistry struct {
	verifiers map[string]ProviderVerifier
}

// NewProviderRegistry creates an empty registry
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{verifiers: make(map[string]ProviderVerifier)}
}

// Register adds or replaces the verifier for a provider name
func (r *ProviderRegistry) Register(name string, verifier ProviderVerifier) {
	r.verifiers[name] = verifier
}

// Get returns the verifier for a provider, or NotImplementedError
func (r *ProviderRegistry) Get(name string) (ProviderVerifier, error) {
	verifier, ok := r.verifiers[name]
	if !ok {
		return nil, &apperr.NotImplementedError{Provider: name}
	}
	return verifier, nil
}
