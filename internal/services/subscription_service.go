package services

import (
	"context"
	"time"

	"entitlement-api/internal/apperr"
	"entitlement-api/internal/database"
	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// SubscriptionStatus is the read model served to clients and cached in Redis
type SubscriptionStatus struct {
	Active      bool   `json:"is_active"`
	Status      string `json:"status"`
	PlanKey     string `json:"plan,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	AutoRenew   bool   `json:"auto_renew,omitempty"`
	IsPermanent bool   `json:"is_permanent,omitempty"`
}

// SubscriptionService serves subscription reads and explicit cancellation
type SubscriptionService struct {
	store    database.Store
	cache    *StatusCache
	notifier *WebhookNotifier

	now func() time.Time
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(store database.Store, cache *StatusCache, notifier *WebhookNotifier) *SubscriptionService {
	return &SubscriptionService{
		store:    store,
		cache:    cache,
		notifier: notifier,
		now:      time.Now,
	}
}

// GetStatus returns the user's current subscription state
func (s *SubscriptionService) GetStatus(ctx context.Context, userID string) (*SubscriptionStatus, error) {
	if cached, ok := s.cache.Get(ctx, userID); ok {
		return cached, nil
	}

	sub, err := s.store.CurrentSubscription(ctx, userID)
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "read subscription", Err: err}
	}

	var status *SubscriptionStatus
	if sub == nil {
		status = &SubscriptionStatus{Active: false, Status: "none", PlanKey: models.PlanFree}
	} else {
		active := sub.IsPermanent || (sub.Status == models.SubscriptionActive && sub.EndDate.After(s.now()))
		status = &SubscriptionStatus{
			Active:      active,
			Status:      sub.Status,
			PlanKey:     sub.PlanKey,
			ExpiresAt:   sub.EndDate.Format(time.RFC3339),
			AutoRenew:   sub.AutoRenew,
			IsPermanent: sub.IsPermanent,
		}
	}

	s.cache.Set(ctx, userID, status)
	return status, nil
}

// Cancel expires the user's most-recently-expiring subscription row now.
// The primary guarantee is the row mutation; the profile plan update is
// best-effort and never blocks the cancellation.
func (s *SubscriptionService) Cancel(ctx context.Context, userID string) (*SubscriptionStatus, error) {
	sub, err := s.store.CurrentSubscription(ctx, userID)
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "read subscription", Err: err}
	}
	if sub == nil {
		return nil, &apperr.NotFoundError{Message: "no subscription found for user"}
	}

	now := s.now()
	sub.Status = models.SubscriptionExpired
	sub.EndDate = now
	sub.AutoRenew = false
	sub.CancelledAt = &now
	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return nil, &apperr.PersistenceError{Op: "cancel subscription", Err: err}
	}

	// Permanent grants keep their plan; everyone else drops to free
	hasPermanent, err := s.store.HasPermanentSubscription(ctx, userID)
	switch {
	case err != nil:
		logging.Errorf("Permanent-grant check after cancel failed for user %s, leaving plan untouched: %v", userID, err)
	case !hasPermanent:
		if err := s.store.SetProfilePlan(ctx, userID, models.PlanFree); err != nil {
			logging.Errorf("Failed to set plan %q for user %s after cancel: %v", models.PlanFree, userID, err)
		}
	}

	s.cache.Invalidate(ctx, userID)
	if s.notifier != nil {
		go s.notifier.NotifyCancellation(userID, sub.PlanKey)
	}

	return &SubscriptionStatus{
		Active:      false,
		Status:      sub.Status,
		PlanKey:     sub.PlanKey,
		ExpiresAt:   sub.EndDate.Format(time.RFC3339),
		AutoRenew:   false,
		IsPermanent: sub.IsPermanent,
	}, nil
}
