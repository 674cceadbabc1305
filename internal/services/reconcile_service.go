package services

import (
	"context"
	"time"

	"entitlement-api/internal/apperr"
	"entitlement-api/internal/database"
	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// Restore item outcomes
const (
	RestoreRestored      = "restored"
	RestoreNotRestorable = "not_restorable"
	RestoreFailed        = "error"
)

// RestoreResult is the outcome for one submitted transaction reference
type RestoreResult struct {
	TransactionID    string `json:"transaction_id"`
	Status           string `json:"status"`
	Message          string `json:"message,omitempty"`
	PlanKey          string `json:"plan_key,omitempty"`
	Active           bool   `json:"is_active,omitempty"`
	ExpiresAt        string `json:"expires_at,omitempty"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
}

// SyncResult reports the re-derived subscription state
type SyncResult struct {
	PlanKey   string    `json:"plan_key"`
	Status    string    `json:"status"`
	Active    bool      `json:"is_active"`
	ExpiresAt time.Time `json:"expires_at"`
	AutoRenew bool      `json:"auto_renew"`
}

// ReconcileService re-derives subscription state from the provider's
// authoritative renewal status. Restore runs the same verify/map/apply path
// as a purchase but sources transaction references from the client's store
// history; Sync sources them from our own stored history.
type ReconcileService struct {
	store        database.Store
	registry     *ProviderRegistry
	catalog      *CatalogService
	ledger       *TransactionLedger
	entitlements *EntitlementService
	cache        *StatusCache

	now func() time.Time
}

// NewReconcileService creates a new reconcile service
func NewReconcileService(store database.Store, registry *ProviderRegistry, catalog *CatalogService, ledger *TransactionLedger, entitlements *EntitlementService, cache *StatusCache) *ReconcileService {
	return &ReconcileService{
		store:        store,
		registry:     registry,
		catalog:      catalog,
		ledger:       ledger,
		entitlements: entitlements,
		cache:        cache,
		now:          time.Now,
	}
}

// Restore verifies each submitted transaction reference independently.
// One bad reference never fails the batch: every item gets its own outcome.
func (s *ReconcileService) Restore(ctx context.Context, platform, provider, userID string, transactionIDs []string) ([]RestoreResult, error) {
	verifier, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	results := make([]RestoreResult, 0, len(transactionIDs))
	seen := make(map[string]bool, len(transactionIDs))
	for _, transactionID := range transactionIDs {
		if transactionID == "" || seen[transactionID] {
			continue
		}
		seen[transactionID] = true
		results = append(results, s.restoreOne(ctx, verifier, platform, provider, userID, transactionID))
	}
	return results, nil
}

func (s *ReconcileService) restoreOne(ctx context.Context, verifier ProviderVerifier, platform, provider, userID, transactionID string) RestoreResult {
	record, err := verifier.VerifyTransaction(ctx, transactionID)
	if err != nil {
		logging.Errorf("Restore: verification of transaction %s failed: %v", transactionID, err)
		return RestoreResult{TransactionID: transactionID, Status: RestoreFailed, Message: err.Error()}
	}

	mapping, err := s.catalog.Resolve(ctx, platform, provider, record.StoreProductID)
	if err != nil {
		return RestoreResult{TransactionID: transactionID, Status: RestoreFailed, Message: err.Error()}
	}
	if mapping.Kind != models.KindSubscription {
		return RestoreResult{TransactionID: transactionID, Status: RestoreNotRestorable}
	}

	_, isNew, err := s.ledger.Recognize(ctx, NewTransactionRow(userID, platform, provider, mapping, record))
	if err != nil {
		return RestoreResult{TransactionID: transactionID, Status: RestoreFailed, Message: err.Error()}
	}

	effect, err := s.entitlements.Apply(ctx, userID, mapping, record, isNew)
	if err != nil {
		return RestoreResult{TransactionID: transactionID, Status: RestoreFailed, Message: err.Error()}
	}

	result := RestoreResult{
		TransactionID:    transactionID,
		Status:           RestoreRestored,
		PlanKey:          effect.PlanKey,
		Active:           effect.SubscriptionActive,
		AlreadyProcessed: effect.AlreadyProcessed,
	}
	if effect.ExpiresAt != nil {
		result.ExpiresAt = effect.ExpiresAt.Format(time.RFC3339)
	}
	return result
}

// Sync queries the provider for the authoritative renewal status of the
// user's subscription chain and re-derives plan and state from the
// candidate with the latest expiry.
func (s *ReconcileService) Sync(ctx context.Context, userID string) (*SyncResult, error) {
	latest, err := s.store.LatestSubscriptionTransaction(ctx, userID)
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "lookup latest subscription transaction", Err: err}
	}
	if latest == nil {
		return nil, &apperr.NotFoundError{Message: "no subscription transaction on record for user"}
	}

	verifier, err := s.registry.Get(latest.Provider)
	if err != nil {
		return nil, err
	}

	originalID := latest.OriginalTransactionID
	if originalID == "" {
		record, err := verifier.VerifyTransaction(ctx, latest.TransactionID)
		if err != nil {
			return nil, err
		}
		originalID = record.OriginalTransactionID
		if originalID == "" {
			// A first purchase is its own renewal-chain root
			originalID = record.TransactionID
		}
	}

	candidates, err := verifier.SubscriptionStatuses(ctx, originalID)
	if err != nil {
		return nil, err
	}

	// Best candidate: latest expiry among the mappable, expiry-bearing ones
	var best *RenewalCandidate
	var bestMapping *models.ProductMapping
	for i := range candidates {
		candidate := &candidates[i]
		if candidate.ExpiresAt == nil {
			continue
		}
		mapping, err := s.catalog.Resolve(ctx, latest.Platform, latest.Provider, candidate.StoreProductID)
		if err != nil {
			logging.Errorf("Sync: discarding candidate %s for user %s: %v", candidate.TransactionID, userID, err)
			continue
		}
		if best == nil || candidate.ExpiresAt.After(*best.ExpiresAt) {
			best = candidate
			bestMapping = mapping
		}
	}
	if best == nil {
		return nil, &apperr.NotFoundError{Message: "no mappable subscription status candidate for user"}
	}

	now := s.now()
	isActive := best.ExpiresAt.After(now)

	current, err := s.store.CurrentSubscription(ctx, userID)
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "read subscription", Err: err}
	}

	switch {
	case current == nil:
		current = &models.Subscription{
			UserID:    userID,
			PlanKey:   bestMapping.PlanKey,
			Status:    subscriptionStatus(isActive),
			StartDate: best.PurchasedAt,
			EndDate:   *best.ExpiresAt,
			AutoRenew: best.AutoRenew,
		}
		if err := s.store.CreateSubscription(ctx, current); err != nil {
			return nil, &apperr.PersistenceError{Op: "create subscription", Err: err}
		}
	case current.IsPermanent:
		isActive = true
		if best.ExpiresAt.After(current.EndDate) {
			current.EndDate = *best.ExpiresAt
			if err := s.store.SaveSubscription(ctx, current); err != nil {
				return nil, &apperr.PersistenceError{Op: "update subscription", Err: err}
			}
		}
	case current.CancelledAt != nil:
		// An explicit cancel is terminal for automated sync; only a new
		// purchase transaction re-activates the row.
		return &SyncResult{
			PlanKey:   current.PlanKey,
			Status:    current.Status,
			Active:    false,
			ExpiresAt: current.EndDate,
			AutoRenew: false,
		}, nil
	default:
		if best.ExpiresAt.After(current.EndDate) {
			current.EndDate = *best.ExpiresAt
		}
		isActive = current.EndDate.After(now)
		current.PlanKey = bestMapping.PlanKey
		current.Status = subscriptionStatus(isActive)
		current.AutoRenew = best.AutoRenew
		if err := s.store.SaveSubscription(ctx, current); err != nil {
			return nil, &apperr.PersistenceError{Op: "update subscription", Err: err}
		}
	}

	s.entitlements.syncProfilePlan(ctx, userID, isActive, bestMapping.PlanKey)
	s.cache.Invalidate(ctx, userID)

	return &SyncResult{
		PlanKey:   current.PlanKey,
		Status:    current.Status,
		Active:    isActive,
		ExpiresAt: current.EndDate,
		AutoRenew: current.AutoRenew,
	}, nil
}

// NewTransactionRow derives the immutable ledger row from a verified purchase
func NewTransactionRow(userID, platform, provider string, mapping *models.ProductMapping, record *PurchaseRecord) *models.Transaction {
	row := &models.Transaction{
		UserID:                userID,
		Platform:              platform,
		Provider:              provider,
		TransactionID:         record.TransactionID,
		OriginalTransactionID: record.OriginalTransactionID,
		ProductID:             record.StoreProductID,
		ProductType:           mapping.Kind,
		Status:                models.TransactionPaid,
		PurchasedAt:           record.PurchasedAt,
		Raw:                   record.Raw,
	}
	if record.ExpiresAt != nil {
		expires := *record.ExpiresAt
		row.ExpiresAt = &expires
	}
	return row
}
