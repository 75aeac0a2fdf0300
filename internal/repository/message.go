package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Gopher0727/TimeChat/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) IMessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	return translate(r.db.WithContext(ctx).Create(message).Error)
}

func (r *MessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var message model.Message
	if err := r.db.WithContext(ctx).Preload("ReadBy").Where("id = ?", id).First(&message).Error; err != nil {
		return nil, translate(err)
	}
	normalizeAttachment(&message)
	return &message, nil
}

// ListByChat returns the room's messages oldest first.
func (r *MessageRepository) ListByChat(ctx context.Context, chatID string) ([]*model.Message, error) {
	var messages []*model.Message
	err := r.db.WithContext(ctx).
		Preload("ReadBy").
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		normalizeAttachment(m)
	}
	return messages, nil
}

// MarkRead adds userID to the reader set of every message in the room and
// returns how many messages gained a reader.
func (r *MessageRepository) MarkRead(ctx context.Context, chatID, userID string, at time.Time) (int64, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("chat_id = ?", chatID).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	reads := make([]model.MessageRead, len(ids))
	for i, id := range ids {
		reads[i] = model.MessageRead{MessageID: id, UserID: userID, ReadAt: at}
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(reads, 200)
	return res.RowsAffected, res.Error
}

func (r *MessageRepository) CountByChat(ctx context.Context, chatID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).Where("chat_id = ?", chatID).Count(&count).Error
	return count, err
}

// An embedded pointer comes back non-nil even for text messages.
func normalizeAttachment(m *model.Message) {
	if m.Attachment != nil && m.Attachment.URL == "" {
		m.Attachment = nil
	}
}
