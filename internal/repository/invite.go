package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/TimeChat/internal/model"
)

type InviteRepository struct {
	db *gorm.DB
}

func NewInviteRepository(db *gorm.DB) IInviteRepository {
	return &InviteRepository{db: db}
}

func (r *InviteRepository) Create(ctx context.Context, code *model.InviteCode) error {
	return translate(r.db.WithContext(ctx).Create(code).Error)
}

func (r *InviteRepository) FindByID(ctx context.Context, id string) (*model.InviteCode, error) {
	var code model.InviteCode
	if err := r.db.WithContext(ctx).Preload("Redemptions").Where("id = ?", id).First(&code).Error; err != nil {
		return nil, translate(err)
	}
	return &code, nil
}

func (r *InviteRepository) FindActiveByCode(ctx context.Context, code string) (*model.InviteCode, error) {
	var invite model.InviteCode
	err := r.db.WithContext(ctx).
		Preload("Redemptions").
		Where("code = ? AND is_active = ?", code, true).
		First(&invite).Error
	if err != nil {
		return nil, translate(err)
	}
	return &invite, nil
}

func (r *InviteRepository) ExistsActive(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.InviteCode{}).
		Where("code = ? AND is_active = ?", code, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *InviteRepository) ListActiveCodes(ctx context.Context) ([]string, error) {
	var codes []string
	err := r.db.WithContext(ctx).
		Model(&model.InviteCode{}).
		Where("is_active = ?", true).
		Pluck("code", &codes).Error
	return codes, err
}

// ListActiveByChat returns usable-by-time active codes, newest first.
func (r *InviteRepository) ListActiveByChat(ctx context.Context, chatID string, now time.Time) ([]*model.InviteCode, error) {
	var codes []*model.InviteCode
	err := r.db.WithContext(ctx).
		Preload("Redemptions").
		Where("chat_id = ? AND is_active = ? AND expires_at > ?", chatID, true, now).
		Order("created_at DESC").
		Find(&codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *InviteRepository) Deactivate(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).
		Model(&model.InviteCode{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *InviteRepository) Replace(ctx context.Context, code *model.InviteCode) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.InviteCode{}).
			Where("chat_id = ? AND is_active = ?", code.ChatID, true).
			Updates(map[string]any{"is_active": false, "updated_at": time.Now()}).Error
		if err != nil {
			return err
		}
		return translate(tx.Create(code).Error)
	})
}

func (r *InviteRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.InviteCode{}).
		Where("is_active = ? AND expires_at < ?", true, now).
		Updates(map[string]any{"is_active": false, "updated_at": now})
	return res.RowsAffected, res.Error
}

func (r *InviteRepository) RedeemJoin(ctx context.Context, member *model.ChatMember, redemption *model.InviteRedemption) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(member).Error; err != nil {
			return translate(err)
		}
		err := tx.Model(&model.ChatRoom{}).Where("id = ?", member.ChatID).Update("updated_at", time.Now()).Error
		if err != nil {
			return err
		}

		res := tx.Model(&model.InviteCode{}).
			Where("id = ?", redemption.InviteCodeID).
			Updates(map[string]any{
				"usage_count": gorm.Expr("usage_count + 1"),
				"updated_at":  redemption.UsedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Create(redemption).Error
	})
}

func (r *InviteRepository) CountByChat(ctx context.Context, chatID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.InviteCode{}).Where("chat_id = ?", chatID).Count(&count).Error
	return count, err
}
