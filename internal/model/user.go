package model

import (
	"time"
)

// User 用户模型
type User struct {
	ID           string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name         string     `gorm:"not null;type:varchar(50)" json:"name"`
	Email        string     `gorm:"uniqueIndex;not null;type:varchar(255)" json:"email"`
	PasswordHash string     `gorm:"not null;type:varchar(255)" json:"-"`
	AvatarURL    string     `gorm:"type:varchar(512)" json:"avatar_url"`
	IsOnline     bool       `gorm:"not null;default:false" json:"is_online"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// UserSummary is the public projection of a user embedded in chat and message views.
type UserSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsOnline  bool   `json:"is_online"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		IsOnline:  u.IsOnline,
	}
}
