package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/TimeChat/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// IUserRepository defines the interface for user data operations
type IUserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Update(ctx context.Context, user *model.User) error
	SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error
	Search(ctx context.Context, query, excludeID string, limit int) ([]*model.User, error)
}

// IChatRepository defines the interface for chat room data operations.
// Rooms returned by Find* carry their members in join order.
type IChatRepository interface {
	Create(ctx context.Context, room *model.ChatRoom) error
	FindByID(ctx context.Context, id string) (*model.ChatRoom, error)
	FindDirect(ctx context.Context, userA, userB string) (*model.ChatRoom, error)
	FindGlobal(ctx context.Context, name string) (*model.ChatRoom, error)
	ListByMember(ctx context.Context, userID string, now time.Time) ([]*model.ChatRoom, error)
	ListExpired(ctx context.Context, now time.Time) ([]*model.ChatRoom, error)
	MemberIDs(ctx context.Context, chatID string) ([]string, error)
	AddMember(ctx context.Context, member *model.ChatMember) error
	RemoveMember(ctx context.Context, chatID, userID string) error
	SetAdmin(ctx context.Context, chatID string, adminID *string) error
	Rename(ctx context.Context, chatID, name string) error
	SetLatestMessage(ctx context.Context, chatID, messageID string) error
	// DeleteCascade removes the room with its messages, read marks, invite
	// codes, redemptions and memberships in one unit.
	DeleteCascade(ctx context.Context, chatID string) error
}

// IMessageRepository defines the interface for message data operations
type IMessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	ListByChat(ctx context.Context, chatID string) ([]*model.Message, error)
	MarkRead(ctx context.Context, chatID, userID string, at time.Time) (int64, error)
	CountByChat(ctx context.Context, chatID string) (int64, error)
}

// IInviteRepository defines the interface for invite code data operations
type IInviteRepository interface {
	// Create fails with ErrDuplicate when the code collides with an active one.
	Create(ctx context.Context, code *model.InviteCode) error
	FindByID(ctx context.Context, id string) (*model.InviteCode, error)
	FindActiveByCode(ctx context.Context, code string) (*model.InviteCode, error)
	ExistsActive(ctx context.Context, code string) (bool, error)
	ListActiveCodes(ctx context.Context) ([]string, error)
	ListActiveByChat(ctx context.Context, chatID string, now time.Time) ([]*model.InviteCode, error)
	Deactivate(ctx context.Context, id string) error
	// Replace deactivates the chat's active codes and inserts code in one
	// transaction. On ErrDuplicate nothing changes.
	Replace(ctx context.Context, code *model.InviteCode) error
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	// RedeemJoin adds the member, increments the usage counter and appends to
	// the redemption log in one transaction.
	RedeemJoin(ctx context.Context, member *model.ChatMember, redemption *model.InviteRedemption) error
	CountByChat(ctx context.Context, chatID string) (int64, error)
}

// translate maps gorm errors to repository errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}
