package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/TimeChat/internal/model"
)

// ChatRepository implements IChatRepository interface
type ChatRepository struct {
	db *gorm.DB
}

// NewChatRepository creates a new IChatRepository instance
func NewChatRepository(db *gorm.DB) IChatRepository {
	return &ChatRepository{db: db}
}

func orderedMembers(db *gorm.DB) *gorm.DB {
	return db.Order("chat_members.id ASC")
}

// Create inserts the room and its initial members.
func (r *ChatRepository) Create(ctx context.Context, room *model.ChatRoom) error {
	return translate(r.db.WithContext(ctx).Create(room).Error)
}

func (r *ChatRepository) FindByID(ctx context.Context, id string) (*model.ChatRoom, error) {
	var room model.ChatRoom
	err := r.db.WithContext(ctx).
		Preload("Members", orderedMembers).
		Where("id = ? AND is_active = ?", id, true).
		First(&room).Error
	if err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

// FindDirect finds the newest non-group room shared by both users.
func (r *ChatRepository) FindDirect(ctx context.Context, userA, userB string) (*model.ChatRoom, error) {
	db := r.db.WithContext(ctx)
	memberOf := func(userID string) *gorm.DB {
		return db.Model(&model.ChatMember{}).Select("chat_id").Where("user_id = ?", userID)
	}

	var room model.ChatRoom
	err := db.
		Preload("Members", orderedMembers).
		Where("is_group_chat = ? AND is_active = ?", false, true).
		Where("id IN (?)", memberOf(userA)).
		Where("id IN (?)", memberOf(userB)).
		Order("created_at DESC").
		First(&room).Error
	if err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

// FindGlobal finds the never-expiring room with the given name.
func (r *ChatRepository) FindGlobal(ctx context.Context, name string) (*model.ChatRoom, error) {
	var room model.ChatRoom
	err := r.db.WithContext(ctx).
		Preload("Members", orderedMembers).
		Where("name = ? AND expires_at IS NULL AND is_group_chat = ? AND is_active = ?", name, true, true).
		Order("created_at ASC").
		First(&room).Error
	if err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

// ListByMember returns the user's live rooms, most recently updated first.
func (r *ChatRepository) ListByMember(ctx context.Context, userID string, now time.Time) ([]*model.ChatRoom, error) {
	db := r.db.WithContext(ctx)
	var rooms []*model.ChatRoom
	err := db.
		Preload("Members", orderedMembers).
		Where("id IN (?)", db.Model(&model.ChatMember{}).Select("chat_id").Where("user_id = ?", userID)).
		Where("is_active = ?", true).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("updated_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *ChatRepository) ListExpired(ctx context.Context, now time.Time) ([]*model.ChatRoom, error) {
	var rooms []*model.ChatRoom
	err := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Order("expires_at ASC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *ChatRepository) MemberIDs(ctx context.Context, chatID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.ChatMember{}).
		Where("chat_id = ?", chatID).
		Order("id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *ChatRepository) AddMember(ctx context.Context, member *model.ChatMember) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(member).Error; err != nil {
			return translate(err)
		}
		return r.touch(tx, member.ChatID)
	})
}

func (r *ChatRepository) RemoveMember(ctx context.Context, chatID, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).Delete(&model.ChatMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return r.touch(tx, chatID)
	})
}

func (r *ChatRepository) SetAdmin(ctx context.Context, chatID string, adminID *string) error {
	return r.update(ctx, chatID, map[string]any{"group_admin_id": adminID})
}

func (r *ChatRepository) Rename(ctx context.Context, chatID, name string) error {
	return r.update(ctx, chatID, map[string]any{"name": name})
}

func (r *ChatRepository) SetLatestMessage(ctx context.Context, chatID, messageID string) error {
	return r.update(ctx, chatID, map[string]any{"latest_message_id": messageID})
}

func (r *ChatRepository) DeleteCascade(ctx context.Context, chatID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messageIDs := tx.Model(&model.Message{}).Select("id").Where("chat_id = ?", chatID)
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&model.MessageRead{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&model.Message{}).Error; err != nil {
			return err
		}

		codeIDs := tx.Model(&model.InviteCode{}).Select("id").Where("chat_id = ?", chatID)
		if err := tx.Where("invite_code_id IN (?)", codeIDs).Delete(&model.InviteRedemption{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&model.InviteCode{}).Error; err != nil {
			return err
		}

		if err := tx.Where("chat_id = ?", chatID).Delete(&model.ChatMember{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", chatID).Delete(&model.ChatRoom{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *ChatRepository) update(ctx context.Context, chatID string, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).Model(&model.ChatRoom{}).Where("id = ?", chatID).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ChatRepository) touch(tx *gorm.DB, chatID string) error {
	return tx.Model(&model.ChatRoom{}).Where("id = ?", chatID).Update("updated_at", time.Now()).Error
}
