package models

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel provides common fields for all database models
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`
}

// Effect kinds a store product can map to
const (
	KindSubscription = "subscription"
	KindCoins        = "coins"
)

// Subscription status values
const (
	SubscriptionActive  = "active"
	SubscriptionExpired = "expired"
)

// Profile plan values with special meaning
const (
	PlanFree = "free"
	PlanVIP  = "vip"
)
