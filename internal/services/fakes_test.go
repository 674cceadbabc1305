package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"entitlement-api/internal/database"
	"entitlement-api/internal/models"
)

// fakeStore is an in-memory Store for service tests. It reproduces the two
// behaviors the services depend on: the (provider, transaction_id) unique
// index and read-a-copy/save-by-id row semantics.
type fakeStore struct {
	mu sync.Mutex

	mappings      []models.ProductMapping
	transactions  []models.Transaction
	subscriptions []models.Subscription
	balances      map[string]models.CoinBalance
	ledger        []models.LedgerEntry
	profiles      map[string]models.Profile

	nextID uint

	// When set, the next InsertTransaction loses the race to this row
	raceWinner *models.Transaction
	// Fail this many AppendLedgerEntry calls before succeeding again
	ledgerFailures int
}

var _ database.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances: make(map[string]models.CoinBalance),
		profiles: make(map[string]models.Profile),
	}
}

func (s *fakeStore) id() uint {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) ActiveProductMapping(ctx context.Context, platform, provider, storeProductID string) (*models.ProductMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.mappings {
		m := s.mappings[i]
		if m.Platform == platform && m.Provider == provider && m.StoreProductID == storeProductID && m.IsActive {
			return &m, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetTransaction(ctx context.Context, provider, transactionID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findTransaction(provider, transactionID), nil
}

func (s *fakeStore) findTransaction(provider, transactionID string) *models.Transaction {
	for i := range s.transactions {
		tx := s.transactions[i]
		if tx.Provider == provider && tx.TransactionID == transactionID {
			return &tx
		}
	}
	return nil
}

func (s *fakeStore) InsertTransaction(ctx context.Context, tx *models.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raceWinner != nil {
		winner := *s.raceWinner
		s.raceWinner = nil
		winner.ID = s.id()
		s.transactions = append(s.transactions, winner)
		return false, nil
	}
	if s.findTransaction(tx.Provider, tx.TransactionID) != nil {
		return false, nil
	}
	tx.ID = s.id()
	s.transactions = append(s.transactions, *tx)
	return true, nil
}

func (s *fakeStore) LatestSubscriptionTransaction(ctx context.Context, userID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Transaction
	for i := range s.transactions {
		tx := s.transactions[i]
		if tx.UserID != userID || tx.ProductType != models.KindSubscription {
			continue
		}
		if latest == nil || tx.PurchasedAt.After(latest.PurchasedAt) {
			copied := tx
			latest = &copied
		}
	}
	return latest, nil
}

func (s *fakeStore) CurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current *models.Subscription
	for i := range s.subscriptions {
		sub := s.subscriptions[i]
		if sub.UserID != userID {
			continue
		}
		if current == nil || sub.EndDate.After(current.EndDate) {
			copied := sub
			current = &copied
		}
	}
	return current, nil
}

func (s *fakeStore) HasPermanentSubscription(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subscriptions {
		if s.subscriptions[i].UserID == userID && s.subscriptions[i].IsPermanent {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.ID = s.id()
	s.subscriptions = append(s.subscriptions, *sub)
	return nil
}

func (s *fakeStore) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subscriptions {
		if s.subscriptions[i].ID == sub.ID {
			s.subscriptions[i] = *sub
			return nil
		}
	}
	sub.ID = s.id()
	s.subscriptions = append(s.subscriptions, *sub)
	return nil
}

func (s *fakeStore) GetOrCreateBalance(ctx context.Context, userID string) (*models.CoinBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if balance, ok := s.balances[userID]; ok {
		return &balance, nil
	}
	balance := models.CoinBalance{UserID: userID}
	balance.ID = s.id()
	s.balances[userID] = balance
	return &balance, nil
}

func (s *fakeStore) SaveBalance(ctx context.Context, balance *models.CoinBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balance.UserID] = *balance
	return nil
}

func (s *fakeStore) AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledgerFailures > 0 {
		s.ledgerFailures--
		return errors.New("ledger unavailable")
	}
	entry.ID = s.id()
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *fakeStore) LedgerEntriesByRef(ctx context.Context, refType, refID string) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []models.LedgerEntry
	for _, entry := range s.ledger {
		if entry.RefType == refType && entry.RefID == refID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *fakeStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if profile, ok := s.profiles[userID]; ok {
		return &profile, nil
	}
	return nil, nil
}

func (s *fakeStore) SetProfilePlan(ctx context.Context, userID, plan string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[userID]
	if !ok {
		profile = models.Profile{UserID: userID}
		profile.ID = s.id()
	}
	profile.Plan = plan
	s.profiles[userID] = profile
	return nil
}

// fakeVerifier serves canned records in place of a store API
type fakeVerifier struct {
	records    map[string]*PurchaseRecord
	statuses   []RenewalCandidate
	statusErr  error
	verifyErrs map[string]error
}

var _ ProviderVerifier = (*fakeVerifier)(nil)

func (f *fakeVerifier) VerifyTransaction(ctx context.Context, transactionID string) (*PurchaseRecord, error) {
	if err, ok := f.verifyErrs[transactionID]; ok {
		return nil, err
	}
	if record, ok := f.records[transactionID]; ok {
		copied := *record
		return &copied, nil
	}
	return nil, errors.New("unknown transaction " + transactionID)
}

func (f *fakeVerifier) SubscriptionStatuses(ctx context.Context, originalTransactionID string) ([]RenewalCandidate, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statuses, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
