package model

import (
	"time"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeVideo  MessageType = "video"
	MessageTypeSystem MessageType = "system"
)

// Attachment describes an uploaded blob referenced by a message.
type Attachment struct {
	URL      string `gorm:"type:varchar(512)" json:"url"`
	Name     string `gorm:"type:varchar(255)" json:"name"`
	MIMEType string `gorm:"column:mime_type;type:varchar(128)" json:"mime_type"`
	Size     int64  `json:"size"`
}

// Message 消息模型
type Message struct {
	ID          string      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ChatID      string      `gorm:"index:idx_message_chat_created,priority:1;not null;type:varchar(64)" json:"chat_id"`
	SenderID    string      `gorm:"index;not null;type:varchar(64)" json:"sender_id"`
	Content     string      `gorm:"type:text;not null" json:"content"`
	MessageType MessageType `gorm:"type:varchar(16);not null;default:text" json:"message_type"`
	Attachment  *Attachment `gorm:"embedded;embeddedPrefix:attachment_" json:"attachment,omitempty"`

	ReadBy []MessageRead `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `gorm:"index:idx_message_chat_created,priority:2;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// ReaderIDs returns the ids of users who have read the message.
func (m *Message) ReaderIDs() []string {
	ids := make([]string, len(m.ReadBy))
	for i, r := range m.ReadBy {
		ids[i] = r.UserID
	}
	return ids
}

// MessageRead is one entry in a message's reader set.
type MessageRead struct {
	MessageID string    `gorm:"primaryKey;type:varchar(64)" json:"message_id"`
	UserID    string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	ReadAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"read_at"`
}

func (MessageRead) TableName() string {
	return "message_reads"
}
