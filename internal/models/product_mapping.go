package models

// ProductMapping maps a store product to its business effect.
// Reference data: looked up by the pipeline, never written by it.
// Exactly one active row exists per (platform, provider, store_product_id).
type ProductMapping struct {
	BaseModel

	Platform       string `json:"platform" gorm:"size:20;not null;index:idx_product_map,unique"`
	Provider       string `json:"provider" gorm:"size:20;not null;index:idx_product_map,unique"`
	StoreProductID string `json:"store_product_id" gorm:"size:100;not null;index:idx_product_map,unique"`

	// Kind decides the effect: subscription or coins
	Kind    string `json:"kind" gorm:"size:20;not null"`
	PlanKey string `json:"plan_key" gorm:"size:50"` // subscription kind only
	PackID  string `json:"pack_id" gorm:"size:50"`  // coins kind only
	Coins   int64  `json:"coins"`                   // coin quantity of the pack

	IsActive bool `json:"is_active" gorm:"default:true;index"`
}

// TableName 指定表名
func (ProductMapping) TableName() string {
	return "iap_product_map"
}
