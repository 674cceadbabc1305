package database

import (
	"context"
	"errors"
	"time"

	"entitlement-api/internal/models"

	"gorm.io/gorm"
)

// Store is the narrow durable-store capability injected into every service.
// Absent records are reported as (nil, nil); errors are real store failures.
// Tests substitute an in-memory implementation.
type Store interface {
	// Product mapping (reference data, read only)
	ActiveProductMapping(ctx context.Context, platform, provider, storeProductID string) (*models.ProductMapping, error)

	// Transactions
	GetTransaction(ctx context.Context, provider, transactionID string) (*models.Transaction, error)
	// InsertTransaction returns false without error when the
	// (provider, transaction_id) unique index rejects the row.
	InsertTransaction(ctx context.Context, tx *models.Transaction) (bool, error)
	LatestSubscriptionTransaction(ctx context.Context, userID string) (*models.Transaction, error)

	// Subscriptions
	CurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	HasPermanentSubscription(ctx context.Context, userID string) (bool, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	SaveSubscription(ctx context.Context, sub *models.Subscription) error

	// Coins
	GetOrCreateBalance(ctx context.Context, userID string) (*models.CoinBalance, error)
	SaveBalance(ctx context.Context, balance *models.CoinBalance) error
	AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	LedgerEntriesByRef(ctx context.Context, refType, refID string) ([]models.LedgerEntry, error)

	// Profiles
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	SetProfilePlan(ctx context.Context, userID, plan string) error
}

// gormStore implements Store on a gorm handle.
type gormStore struct {
	db *gorm.DB
}

// NewStore wraps a gorm handle in the Store capability.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) ActiveProductMapping(ctx context.Context, platform, provider, storeProductID string) (*models.ProductMapping, error) {
	var mapping models.ProductMapping
	err := s.db.WithContext(ctx).
		Where("platform = ? AND provider = ? AND store_product_id = ? AND is_active = ?",
			platform, provider, storeProductID, true).
		First(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mapping, nil
}

func (s *gormStore) GetTransaction(ctx context.Context, provider, transactionID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).
		Where("provider = ? AND transaction_id = ?", provider, transactionID).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

func (s *gormStore) InsertTransaction(ctx context.Context, tx *models.Transaction) (bool, error) {
	err := s.db.WithContext(ctx).Create(tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *gormStore) LatestSubscriptionTransaction(ctx context.Context, userID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND product_type = ?", userID, models.KindSubscription).
		Order("purchased_at DESC").
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

func (s *gormStore) CurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("end_date DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (s *gormStore) HasPermanentSubscription(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ? AND is_permanent = ?", userID, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *gormStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return s.db.WithContext(ctx).Create(sub).Error
}

func (s *gormStore) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return s.db.WithContext(ctx).Save(sub).Error
}

func (s *gormStore) GetOrCreateBalance(ctx context.Context, userID string) (*models.CoinBalance, error) {
	var balance models.CoinBalance
	err := s.db.WithContext(ctx).
		Where(models.CoinBalance{UserID: userID}).
		FirstOrCreate(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (s *gormStore) SaveBalance(ctx context.Context, balance *models.CoinBalance) error {
	return s.db.WithContext(ctx).Save(balance).Error
}

func (s *gormStore) AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *gormStore) LedgerEntriesByRef(ctx context.Context, refType, refID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("ref_type = ? AND ref_id = ?", refType, refID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

func (s *gormStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (s *gormStore) SetProfilePlan(ctx context.Context, userID, plan string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"plan": plan, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.db.WithContext(ctx).Create(&models.Profile{UserID: userID, Plan: plan}).Error
	}
	return nil
}
