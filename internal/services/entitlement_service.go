package services

import (
	"context"
	"encoding/json"
	"time"

	"entitlement-api/internal/apperr"
	"entitlement-api/internal/database"
	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// Audit ledger classification tags
const (
	LedgerKindPurchase = "iap_purchase"
	// Fallback tag for the single retry after a failed audit write
	LedgerKindPurchaseFallback = "iap_purchase_unaudited"

	ledgerRefTransaction = "iap_transaction"
)

// Effect is the business outcome of applying a recognized purchase
type Effect struct {
	Kind               string     `json:"kind"`
	PlanKey            string     `json:"plan_key,omitempty"`
	SubscriptionActive bool       `json:"subscription_active,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	CoinsAdded         int64      `json:"coins_added,omitempty"`
	CoinsBalance       int64      `json:"coins_balance,omitempty"`
	AlreadyProcessed   bool       `json:"already_processed"`
}

// EntitlementService applies the business effect of a purchase to the
// user's account. Apply is idempotent: it runs both on first recognition of
// a transaction and on every replay of an already-seen one, and both paths
// converge on the same final state. Subscriptions re-merge harmlessly via the
// monotonic end date; coins are credited and audited only on first
// recognition.
type EntitlementService struct {
	store    database.Store
	cache    *StatusCache
	notifier *WebhookNotifier
	mailer   *ReceiptMailer

	now func() time.Time
}

// NewEntitlementService creates a new entitlement service. Cache, notifier
// and mailer are optional side channels and may be nil.
func NewEntitlementService(store database.Store, cache *StatusCache, notifier *WebhookNotifier, mailer *ReceiptMailer) *EntitlementService {
	return &EntitlementService{
		store:    store,
		cache:    cache,
		notifier: notifier,
		mailer:   mailer,
		now:      time.Now,
	}
}

// Apply grants the mapped effect to the user. isNew reports whether the
// underlying transaction was recognized for the first time; it gates the
// audit trail and outbound notifications, never the effect itself.
func (s *EntitlementService) Apply(ctx context.Context, userID string, mapping *models.ProductMapping, record *PurchaseRecord, isNew bool) (*Effect, error) {
	var effect *Effect
	var err error

	switch mapping.Kind {
	case models.KindSubscription:
		effect, err = s.applySubscription(ctx, userID, mapping, record)
	case models.KindCoins:
		effect, err = s.applyCoins(ctx, userID, mapping, record, isNew)
	default:
		return nil, &apperr.DataIntegrityError{
			Message: "product mapping " + mapping.StoreProductID + " has unknown kind " + mapping.Kind,
		}
	}
	if err != nil {
		return nil, err
	}

	effect.AlreadyProcessed = !isNew
	s.cache.Invalidate(ctx, userID)
	if isNew {
		s.dispatchSideEffects(ctx, userID, effect, record)
	}
	return effect, nil
}

func (s *EntitlementService) applySubscription(ctx context.Context, userID string, mapping *models.ProductMapping, record *PurchaseRecord) (*Effect, error) {
	now := s.now()

	current, err := s.store.CurrentSubscription(ctx, userID)
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "read subscription", Err: err}
	}

	effectiveStart := record.PurchasedAt
	if current != nil && !current.StartDate.IsZero() {
		effectiveStart = current.StartDate
	}

	// Monotonic merge: the stored end date only ever moves forward, so
	// concurrent writers commute regardless of interleaving.
	var effectiveEnd time.Time
	if current != nil {
		effectiveEnd = current.EndDate
	}
	if record.ExpiresAt != nil && record.ExpiresAt.After(effectiveEnd) {
		effectiveEnd = *record.ExpiresAt
	}

	isActive := effectiveEnd.After(now)

	switch {
	case current == nil:
		current = &models.Subscription{
			UserID:    userID,
			PlanKey:   mapping.PlanKey,
			Status:    subscriptionStatus(isActive),
			StartDate: effectiveStart,
			EndDate:   effectiveEnd,
			AutoRenew: isActive,
		}
		if err := s.store.CreateSubscription(ctx, current); err != nil {
			return nil, &apperr.PersistenceError{Op: "create subscription", Err: err}
		}
	case current.IsPermanent:
		// Permanent grants are never downgraded; only the end date may grow
		isActive = true
		if effectiveEnd.After(current.EndDate) {
			current.EndDate = effectiveEnd
			if err := s.store.SaveSubscription(ctx, current); err != nil {
				return nil, &apperr.PersistenceError{Op: "update subscription", Err: err}
			}
		}
	default:
		current.PlanKey = mapping.PlanKey
		current.Status = subscriptionStatus(isActive)
		current.StartDate = effectiveStart
		current.EndDate = effectiveEnd
		current.AutoRenew = isActive
		// A real purchase event lifts a prior explicit cancellation
		current.CancelledAt = nil
		if err := s.store.SaveSubscription(ctx, current); err != nil {
			return nil, &apperr.PersistenceError{Op: "update subscription", Err: err}
		}
	}

	s.syncProfilePlan(ctx, userID, isActive, mapping.PlanKey)

	expiresAt := current.EndDate
	return &Effect{
		Kind:               models.KindSubscription,
		PlanKey:            current.PlanKey,
		SubscriptionActive: isActive,
		ExpiresAt:          &expiresAt,
	}, nil
}

func (s *EntitlementService) applyCoins(ctx context.Context, userID string, mapping *models.ProductMapping, record *PurchaseRecord, isNew bool) (*Effect, error) {
	if mapping.Coins <= 0 {
		return nil, &apperr.DataIntegrityError{
			Message: "coin pack " + mapping.PackID + " is configured with a non-positive quantity",
		}
	}

	balance, err := s.store.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "read coin balance", Err: err}
	}

	// A replayed transaction was already credited once; report the current
	// balance without touching it.
	if !isNew {
		return &Effect{
			Kind:         models.KindCoins,
			CoinsBalance: balance.CoinsBalance,
		}, nil
	}

	balance.CoinsBalance += mapping.Coins
	if err := s.store.SaveBalance(ctx, balance); err != nil {
		return nil, &apperr.PersistenceError{Op: "update coin balance", Err: err}
	}

	// The credit above is already earned; an audit fault must not undo it
	s.appendAudit(ctx, userID, mapping, record, balance.CoinsBalance)

	return &Effect{
		Kind:         models.KindCoins,
		CoinsAdded:   mapping.Coins,
		CoinsBalance: balance.CoinsBalance,
	}, nil
}

func (s *EntitlementService) appendAudit(ctx context.Context, userID string, mapping *models.ProductMapping, record *PurchaseRecord, balanceAfter int64) {
	metadata, _ := json.Marshal(map[string]string{
		"product_id": mapping.StoreProductID,
		"pack_id":    mapping.PackID,
	})

	entry := &models.LedgerEntry{
		UserID:       userID,
		Delta:        mapping.Coins,
		Kind:         LedgerKindPurchase,
		RefType:      ledgerRefTransaction,
		RefID:        record.TransactionID,
		BalanceAfter: balanceAfter,
		Metadata:     string(metadata),
	}
	err := s.store.AppendLedgerEntry(ctx, entry)
	if err == nil {
		return
	}
	logging.Errorf("Audit ledger write failed for transaction %s: %v", record.TransactionID, err)

	fallback := *entry
	fallback.ID = 0
	fallback.Kind = LedgerKindPurchaseFallback
	if err := s.store.AppendLedgerEntry(ctx, &fallback); err != nil {
		logging.Errorf("Audit ledger fallback write failed for transaction %s, giving up: %v", record.TransactionID, err)
	}
}

// syncProfilePlan updates the denormalized plan on the profile. Failures
// are swallowed by design; the error log is the incident trail.
func (s *EntitlementService) syncProfilePlan(ctx context.Context, userID string, active bool, planKey string) {
	target := planKey
	if !active {
		hasPermanent, err := s.store.HasPermanentSubscription(ctx, userID)
		if err != nil {
			logging.Errorf("Permanent-grant check failed for user %s, leaving plan untouched: %v", userID, err)
			return
		}
		if hasPermanent {
			target = models.PlanVIP
		} else {
			target = models.PlanFree
		}
	}

	if err := s.store.SetProfilePlan(ctx, userID, target); err != nil {
		logging.Errorf("Failed to set plan %q for user %s: %v", target, userID, err)
	}
}

func (s *EntitlementService) dispatchSideEffects(ctx context.Context, userID string, effect *Effect, record *PurchaseRecord) {
	if s.notifier != nil {
		go s.notifier.NotifyEntitlementChange(userID, effect, record.TransactionID)
	}
	if s.mailer == nil {
		return
	}
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		logging.Errorf("Profile lookup for receipt email failed for user %s: %v", userID, err)
		return
	}
	if profile == nil || profile.Email == "" {
		return
	}
	go s.mailer.SendPurchaseReceipt(profile.Email, effect, record)
}

func subscriptionStatus(active bool) string {
	if active {
		return models.SubscriptionActive
	}
	return models.SubscriptionExpired
}
