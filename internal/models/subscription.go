package models

import (
	"time"
)

// Subscription 订阅模型
// The row with the latest end_date is the user's authoritative subscription.
// end_date never regresses: every writer merges with max(existing, observed).
type Subscription struct {
	BaseModel

	UserID  string `json:"user_id" gorm:"size:64;not null;index"`
	PlanKey string `json:"plan_key" gorm:"size:50;not null"`
	Status  string `json:"status" gorm:"size:20;not null;index"` // active or expired

	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date" gorm:"index"`

	AutoRenew bool `json:"auto_renew"`

	// Set by an explicit cancel. A cancelled row is terminal for automated
	// re-sync; only a new purchase transaction clears it.
	CancelledAt *time.Time `json:"cancelled_at"`

	// Permanent grants (lifetime access) are never downgraded by any
	// automated process, including sync and cancel plan derivation.
	IsPermanent bool `json:"is_permanent" gorm:"default:false;index"`
}

// TableName 指定表名
func (Subscription) TableName() string {
	return "abonnements"
}
