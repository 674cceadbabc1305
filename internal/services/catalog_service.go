package services

import (
	"context"

	"entitlement-api/internal/apperr"
	"entitlement-api/internal/database"
	"entitlement-api/internal/models"
)

// CatalogService resolves store products to their business effect.
// Pure lookup over reference data, no side effects.
type CatalogService struct {
	store database.Store
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store database.Store) *CatalogService {
	return &CatalogService{store: store}
}

// Resolve returns the single active mapping for a store product.
// A missing mapping is a hard stop: no default effect is ever guessed.
func (s *CatalogService) Resolve(ctx context.Context, platform, provider, storeProductID string) (*models.ProductMapping, error) {
	mapping, err := s.store.ActiveProductMapping(ctx, platform, provider, storeProductID)
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "lookup product mapping", Err: err}
	}
	if mapping == nil {
		return nil, &apperr.UnknownProductError{Platform: platform, Provider: provider, ProductID: storeProductID}
	}
	return mapping, nil
}
