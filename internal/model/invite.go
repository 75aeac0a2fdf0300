package model

import "time"

// InviteCode 临时邀请码
//
// Codes are unique among active rows only; the partial index enforces it.
type InviteCode struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Code       string    `gorm:"uniqueIndex:idx_active_invite_code,where:is_active = true;not null;type:varchar(16)" json:"code"`
	ChatID     string    `gorm:"index;not null;type:varchar(64)" json:"chat_id"`
	CreatedBy  string    `gorm:"not null;type:varchar(64)" json:"created_by"`
	ExpiresAt  time.Time `gorm:"index;not null" json:"expires_at"`
	IsActive   bool      `gorm:"not null;default:true;index" json:"is_active"`
	UsageCount int       `gorm:"not null;default:0" json:"usage_count"`
	MaxUses    *int      `json:"max_uses,omitempty"`

	Redemptions []InviteRedemption `gorm:"foreignKey:InviteCodeID;constraint:OnDelete:CASCADE" json:"used_by,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (InviteCode) TableName() string {
	return "invite_codes"
}

// IsValid: active, not past expiry, and uses remaining.
func (c *InviteCode) IsValid(now time.Time) bool {
	return c.IsActive &&
		!now.After(c.ExpiresAt) &&
		(c.MaxUses == nil || c.UsageCount < *c.MaxUses)
}

// InviteRedemption records one use of an invite code.
type InviteRedemption struct {
	ID           int64     `gorm:"primaryKey;autoIncrement:false" json:"-"`
	InviteCodeID string    `gorm:"index;not null;type:varchar(64)" json:"-"`
	UserID       string    `gorm:"not null;type:varchar(64)" json:"user_id"`
	UsedAt       time.Time `gorm:"not null" json:"used_at"`
}

func (InviteRedemption) TableName() string {
	return "invite_redemptions"
}
