package services

import (
	"context"

	"entitlement-api/internal/apperr"
)

// GooglePlayClient is a registered placeholder for Google Play verification.
// It fails fast with a distinguishable error instead of returning empty data.
type GooglePlayClient struct{}

// NewGooglePlayClient creates the placeholder Google Play verifier
func NewGooglePlayClient() *GooglePlayClient {
	return &GooglePlayClient{}
}

func (c *GooglePlayClient) VerifyTransaction(ctx context.Context, transactionID string) (*PurchaseRecord, error) {
	return nil, &apperr.NotImplementedError{Provider: ProviderGoogle}
}

func (c *GooglePlayClient) SubscriptionStatuses(ctx context.Context, originalTransactionID string) ([]RenewalCandidate, error) {
	return nil, &apperr.NotImplementedError{Provider: ProviderGoogle}
}
