package model

import "time"

// ChatRoom 聊天室模型
//
// Members are stored in chat_members; Members is filled by the repository
// in join order, so Members[0] is the longest-standing member.
type ChatRoom struct {
	ID              string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name            string     `gorm:"not null;type:varchar(100)" json:"name"`
	IsGroupChat     bool       `gorm:"not null;default:false;index" json:"is_group_chat"`
	GroupAdminID    *string    `gorm:"type:varchar(64)" json:"group_admin_id,omitempty"`
	MaxMembers      int        `gorm:"not null;default:50" json:"max_members"`
	LatestMessageID *string    `gorm:"type:varchar(64)" json:"latest_message_id,omitempty"`
	ExpiresAt       *time.Time `gorm:"index" json:"expires_at,omitempty"`
	IsActive        bool       `gorm:"not null;default:true" json:"is_active"`

	Members []ChatMember `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (ChatRoom) TableName() string {
	return "chat_rooms"
}

// MemberIDs returns member user ids in join order.
func (c *ChatRoom) MemberIDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.UserID
	}
	return ids
}

func (c *ChatRoom) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (c *ChatRoom) IsAdmin(userID string) bool {
	return c.GroupAdminID != nil && *c.GroupAdminID == userID
}

// IsExpired reports whether the room has a deadline that has passed.
func (c *ChatRoom) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// TimeRemaining is max(0, expiresAt-now); ok is false for rooms that never expire.
func (c *ChatRoom) TimeRemaining(now time.Time) (remaining time.Duration, ok bool) {
	if c.ExpiresAt == nil {
		return 0, false
	}
	return max(c.ExpiresAt.Sub(now), 0), true
}

// ChatMember 聊天室成员
//
// ID comes from the snowflake generator and therefore orders members by join time.
type ChatMember struct {
	ID       int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ChatID   string    `gorm:"uniqueIndex:idx_chat_member;not null;type:varchar(64)" json:"chat_id"`
	UserID   string    `gorm:"uniqueIndex:idx_chat_member;index;not null;type:varchar(64)" json:"user_id"`
	JoinedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"joined_at"`
}

func (ChatMember) TableName() string {
	return "chat_members"
}
