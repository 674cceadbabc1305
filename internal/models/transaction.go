package models

import (
	"time"
)

// TransactionPaid is the only status a ledger row is ever created with
const TransactionPaid = "paid"

// Transaction records one recognized real-world purchase event.
// The (provider, transaction_id) unique index is the system's sole
// double-credit guard: a duplicate insert losing to it means the purchase
// is already recognized, and callers proceed down the idempotent apply path.
// Rows are immutable after creation.
type Transaction struct {
	BaseModel

	UserID   string `json:"user_id" gorm:"size:64;not null;index"`
	Platform string `json:"platform" gorm:"size:20;not null"`
	Provider string `json:"provider" gorm:"size:20;not null;index:idx_provider_tx,unique"`

	TransactionID         string `json:"transaction_id" gorm:"size:100;not null;index:idx_provider_tx,unique"`
	OriginalTransactionID string `json:"original_transaction_id" gorm:"size:100;index"`

	ProductID   string `json:"product_id" gorm:"size:100;not null"`
	ProductType string `json:"product_type" gorm:"size:20;not null;index"` // subscription or coins
	Status      string `json:"status" gorm:"size:20;not null"`             // fixed at "paid"

	PurchasedAt time.Time  `json:"purchased_at" gorm:"index"`
	ExpiresAt   *time.Time `json:"expires_at"`

	Raw string `json:"raw" gorm:"type:text"` // provider payload as received
}

// TableName 指定表名
func (Transaction) TableName() string {
	return "iap_transactions"
}
