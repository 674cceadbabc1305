package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"entitlement-api/internal/database"
	"entitlement-api/internal/models"
	"entitlement-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is the minimal in-memory Store backing the handler tests
type memStore struct {
	mappings      []models.ProductMapping
	transactions  []models.Transaction
	subscriptions []models.Subscription
	balances      map[string]models.CoinBalance
	ledger        []models.LedgerEntry
	profiles      map[string]models.Profile
	nextID        uint
}

var _ database.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		balances: make(map[string]models.CoinBalance),
		profiles: make(map[string]models.Profile),
	}
}

func (s *memStore) id() uint {
	s.nextID++
	return s.nextID
}

func (s *memStore) ActiveProductMapping(ctx context.Context, platform, provider, storeProductID string) (*models.ProductMapping, error) {
	for i := range s.mappings {
		m := s.mappings[i]
		if m.Platform == platform && m.Provider == provider && m.StoreProductID == storeProductID && m.IsActive {
			return &m, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetTransaction(ctx context.Context, provider, transactionID string) (*models.Transaction, error) {
	for i := range s.transactions {
		tx := s.transactions[i]
		if tx.Provider == provider && tx.TransactionID == transactionID {
			return &tx, nil
		}
	}
	return nil, nil
}

func (s *memStore) InsertTransaction(ctx context.Context, tx *models.Transaction) (bool, error) {
	if existing, _ := s.GetTransaction(ctx, tx.Provider, tx.TransactionID); existing != nil {
		return false, nil
	}
	tx.ID = s.id()
	s.transactions = append(s.transactions, *tx)
	return true, nil
}

func (s *memStore) LatestSubscriptionTransaction(ctx context.Context, userID string) (*models.Transaction, error) {
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

func (s *memStore) CurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
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

func (s *memStore) HasPermanentSubscription(ctx context.Context, userID string) (bool, error) {
	for i := range s.subscriptions {
		if s.subscriptions[i].UserID == userID && s.subscriptions[i].IsPermanent {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	sub.ID = s.id()
	s.subscriptions = append(s.subscriptions, *sub)
	return nil
}

func (s *memStore) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
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

func (s *memStore) GetOrCreateBalance(ctx context.Context, userID string) (*models.CoinBalance, error) {
	if balance, ok := s.balances[userID]; ok {
		return &balance, nil
	}
	balance := models.CoinBalance{UserID: userID}
	balance.ID = s.id()
	s.balances[userID] = balance
	return &balance, nil
}

func (s *memStore) SaveBalance(ctx context.Context, balance *models.CoinBalance) error {
	s.balances[balance.UserID] = *balance
	return nil
}

func (s *memStore) AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	entry.ID = s.id()
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *memStore) LedgerEntriesByRef(ctx context.Context, refType, refID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	for _, entry := range s.ledger {
		if entry.RefType == refType && entry.RefID == refID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *memStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if profile, ok := s.profiles[userID]; ok {
		return &profile, nil
	}
	return nil, nil
}

func (s *memStore) SetProfilePlan(ctx context.Context, userID, plan string) error {
	profile, ok := s.profiles[userID]
	if !ok {
		profile = models.Profile{UserID: userID}
		profile.ID = s.id()
	}
	profile.Plan = plan
	s.profiles[userID] = profile
	return nil
}

// stubVerifier serves canned purchase records
type stubVerifier struct {
	records map[string]*services.PurchaseRecord
}

func (v *stubVerifier) VerifyTransaction(ctx context.Context, transactionID string) (*services.PurchaseRecord, error) {
	if record, ok := v.records[transactionID]; ok {
		copied := *record
		return &copied, nil
	}
	return nil, &providerDown{}
}

func (v *stubVerifier) SubscriptionStatuses(ctx context.Context, originalTransactionID string) ([]services.RenewalCandidate, error) {
	return nil, &providerDown{}
}

type providerDown struct{}

func (e *providerDown) Error() string { return "provider unavailable" }

func newTestRouter(store *memStore, verifier services.ProviderVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)

	registry := services.NewProviderRegistry()
	if verifier != nil {
		registry.Register(services.ProviderApple, verifier)
	}
	catalog := services.NewCatalogService(store)
	ledger := services.NewTransactionLedger(store)
	entitlements := services.NewEntitlementService(store, nil, nil, nil)
	reconciler := services.NewReconcileService(store, registry, catalog, ledger, entitlements, nil)
	subscriptions := services.NewSubscriptionService(store, nil, nil)

	r := gin.New()
	SetupRoutes(r, &Handler{
		Registry:      registry,
		Catalog:       catalog,
		Ledger:        ledger,
		Entitlements:  entitlements,
		Reconciler:    reconciler,
		Subscriptions: subscriptions,
	}, nil)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestVerifyPurchaseHappyPath(t *testing.T) {
	store := newMemStore()
	store.mappings = append(store.mappings, models.ProductMapping{
		Platform:       "ios",
		Provider:       services.ProviderApple,
		StoreProductID: "com.app.coins.500",
		Kind:           models.KindCoins,
		PackID:         "pack_500",
		Coins:          500,
		IsActive:       true,
	})
	expires := time.Now().Add(30 * 24 * time.Hour)
	verifier := &stubVerifier{records: map[string]*services.PurchaseRecord{
		"tx-1": {
			TransactionID:  "tx-1",
			StoreProductID: "com.app.coins.500",
			PurchasedAt:    time.Now().Add(-time.Hour),
			ExpiresAt:      &expires,
		},
	}}
	r := newTestRouter(store, verifier)

	w := postJSON(t, r, "/api/iap/verify", gin.H{
		"platform":       "ios",
		"provider":       "apple",
		"user_id":        "user-1",
		"transaction_id": "tx-1",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := decodeEnvelope(t, w)
	assert.True(t, env.Success)

	var result VerifyPurchaseResponse
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "tx-1", result.TransactionID)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, int64(500), result.CoinsAdded)
	assert.Equal(t, int64(500), result.CoinsBalance)

	assert.Len(t, store.transactions, 1)
	assert.Len(t, store.ledger, 1)
}

func TestVerifyPurchaseReplayIsIdempotent(t *testing.T) {
	store := newMemStore()
	store.mappings = append(store.mappings, models.ProductMapping{
		Platform:       "ios",
		Provider:       services.ProviderApple,
		StoreProductID: "com.app.coins.500",
		Kind:           models.KindCoins,
		PackID:         "pack_500",
		Coins:          500,
		IsActive:       true,
	})
	verifier := &stubVerifier{records: map[string]*services.PurchaseRecord{
		"tx-1": {
			TransactionID:  "tx-1",
			StoreProductID: "com.app.coins.500",
			PurchasedAt:    time.Now().Add(-time.Hour),
		},
	}}
	r := newTestRouter(store, verifier)

	body := gin.H{"platform": "ios", "provider": "apple", "user_id": "user-1", "transaction_id": "tx-1"}
	first := postJSON(t, r, "/api/iap/verify", body)
	require.Equal(t, http.StatusOK, first.Code)

	second := postJSON(t, r, "/api/iap/verify", body)
	require.Equal(t, http.StatusOK, second.Code)

	var result VerifyPurchaseResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, second).Data, &result))
	assert.True(t, result.AlreadyProcessed)
	assert.Equal(t, int64(500), result.CoinsBalance, "replay must not double-credit")
	assert.Len(t, store.ledger, 1)
}

func TestVerifyPurchaseRejectsMalformedBody(t *testing.T) {
	r := newTestRouter(newMemStore(), nil)

	w := postJSON(t, r, "/api/iap/verify", gin.H{"platform": "ios"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, decodeEnvelope(t, w).Success)
}

func TestVerifyPurchaseUnknownProduct(t *testing.T) {
	store := newMemStore()
	verifier := &stubVerifier{records: map[string]*services.PurchaseRecord{
		"tx-1": {
			TransactionID:  "tx-1",
			StoreProductID: "com.app.unlisted",
			PurchasedAt:    time.Now(),
		},
	}}
	r := newTestRouter(store, verifier)

	w := postJSON(t, r, "/api/iap/verify", gin.H{
		"platform":       "ios",
		"provider":       "apple",
		"user_id":        "user-1",
		"transaction_id": "tx-1",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, store.transactions, "an unmapped product is never recognized")
}

func TestVerifyPurchaseUnregisteredProvider(t *testing.T) {
	r := newTestRouter(newMemStore(), nil)

	w := postJSON(t, r, "/api/iap/verify", gin.H{
		"platform":       "ios",
		"provider":       "apple",
		"user_id":        "user-1",
		"transaction_id": "tx-1",
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCancelWithoutSubscriptionIs404(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(store, nil)

	w := postJSON(t, r, "/api/subscription/cancel", gin.H{"user_id": "user-1"})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, decodeEnvelope(t, w).Success)
	assert.Empty(t, store.subscriptions)
}

func TestGetSubscriptionStatusRequiresUserID(t *testing.T) {
	r := newTestRouter(newMemStore(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/subscription/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSubscriptionStatusDefaultsToFree(t *testing.T) {
	r := newTestRouter(newMemStore(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/subscription/status?user_id=user-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var status services.SubscriptionStatus
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &status))
	assert.False(t, status.Active)
	assert.Equal(t, models.PlanFree, status.PlanKey)
}

func TestSyncWithoutHistoryIs404(t *testing.T) {
	r := newTestRouter(newMemStore(), &stubVerifier{})

	w := postJSON(t, r, "/api/subscription/sync", gin.H{"user_id": "user-1"})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpointIsPublic(t *testing.T) {
	r := newTestRouter(newMemStore(), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
