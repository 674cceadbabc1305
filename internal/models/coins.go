package models

// CoinBalance holds a user's current coin balance.
// The balance is always the sum of applied ledger deltas.
type CoinBalance struct {
	BaseModel

	UserID       string `json:"user_id" gorm:"size:64;not null;uniqueIndex"`
	CoinsBalance int64  `json:"coins_balance" gorm:"not null;default:0"`
}

// TableName 指定表名
func (CoinBalance) TableName() string {
	return "okcoins_users_balance"
}

// LedgerEntry is one append-only audit record of a coin-balance change.
// Exactly one entry is written per newly recognized coin transaction;
// replays of an already-seen transaction never append.
type LedgerEntry struct {
	BaseModel

	UserID       string `json:"user_id" gorm:"size:64;not null;index"`
	Delta        int64  `json:"delta" gorm:"not null"`
	Kind         string `json:"kind" gorm:"size:30;not null"`
	RefType      string `json:"ref_type" gorm:"size:30"`
	RefID        string `json:"ref_id" gorm:"size:100;index"`
	BalanceAfter int64  `json:"balance_after"`
	Metadata     string `json:"metadata" gorm:"type:text"`
}

// TableName 指定表名
func (LedgerEntry) TableName() string {
	return "okcoins_ledger"
}
