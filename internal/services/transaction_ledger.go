package services

import (
	"context"
	"fmt"

	"entitlement-api/internal/apperr"
	"entitlement-api/internal/database"
	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// TransactionLedger enforces at-most-once recognition of a
// (provider, transaction id) pair. No lock is taken anywhere: the unique
// index on the durable store is the sole serialization point, and a client
// retrying a timed-out verify converges on the same entitlement outcome as
// the original request.
type TransactionLedger struct {
	store database.Store
}

// NewTransactionLedger creates a new transaction ledger
func NewTransactionLedger(store database.Store) *TransactionLedger {
	return &TransactionLedger{store: store}
}

// Exists returns the stored transaction for the pair, or nil
func (l *TransactionLedger) Exists(ctx context.Context, provider, transactionID string) (*models.Transaction, error) {
	tx, err := l.store.GetTransaction(ctx, provider, transactionID)
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "lookup transaction", Err: err}
	}
	return tx, nil
}

// Recognize records the transaction if it is new. Losing the insert race is
// not an error: the loser re-reads the winner's row and reports isNew=false,
// and the caller proceeds down the identical idempotent apply path.
func (l *TransactionLedger) Recognize(ctx context.Context, tx *models.Transaction) (*models.Transaction, bool, error) {
	existing, err := l.Exists(ctx, tx.Provider, tx.TransactionID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	inserted, err := l.store.InsertTransaction(ctx, tx)
	if err != nil {
		return nil, false, &apperr.PersistenceError{Op: "insert transaction", Err: err}
	}
	if inserted {
		return tx, true, nil
	}

	// A concurrent insert won the race between our read and write
	logging.Infof("Transaction %s/%s already recognized by a concurrent request", tx.Provider, tx.TransactionID)
	existing, err = l.Exists(ctx, tx.Provider, tx.TransactionID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, &apperr.PersistenceError{
			Op:  "re-read transaction after duplicate insert",
			Err: fmt.Errorf("row for %s/%s vanished", tx.Provider, tx.TransactionID),
		}
	}
	return existing, false, nil
}
