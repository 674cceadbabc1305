package models

// Profile carries the denormalized current plan shown to the rest of the
// product, synchronized best-effort after entitlement changes.
type Profile struct {
	BaseModel

	UserID string `json:"user_id" gorm:"size:64;not null;uniqueIndex"`
	Plan   string `json:"plan" gorm:"size:50;default:'free'"`
	Email  string `json:"email" gorm:"size:255"`
}

// TableName 指定表名
func (Profile) TableName() string {
	return "profiles"
}
