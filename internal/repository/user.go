package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/TimeChat/internal/model"
)

// UserRepository implements IUserRepository interface
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new IUserRepository instance
func NewUserRepository(db *gorm.DB) IUserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) ([]*model.User, error) {
	var users []*model.User
	if len(ids) == 0 {
		return users, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *UserRepository) Update(ctx context.Context, user *model.User) error {
	return translate(r.db.WithContext(ctx).Save(user).Error)
}

func (r *UserRepository) SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_online": online, "last_seen": lastSeen})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Search matches name or email case-insensitively.
func (r *UserRepository) Search(ctx context.Context, query, excludeID string, limit int) ([]*model.User, error) {
	var users []*model.User
	pattern := "%" + strings.ToLower(query) + "%"
	err := r.db.WithContext(ctx).
		Where("id <> ?", excludeID).
		Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern).
		Order("name ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
