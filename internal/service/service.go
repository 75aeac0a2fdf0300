// Package service holds the chat core: invite codes, room lifecycle,
// messages and accounts. Services return *errs.Error values from the
// taxonomy in internal/pkg/errs and never write to a transport.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/TimeChat/internal/pkg/errs"
	"github.com/Gopher0727/TimeChat/internal/pkg/kafka"
	"github.com/Gopher0727/TimeChat/internal/pkg/lock"
	"github.com/Gopher0727/TimeChat/internal/repository"
	"github.com/Gopher0727/TimeChat/utils/snowflake"
)

// Deps are the collaborators shared by every service.
type Deps struct {
	Users    repository.IUserRepository
	Chats    repository.IChatRepository
	Messages repository.IMessageRepository
	Invites  repository.IInviteRepository

	Locker lock.Locker
	IDs    *snowflake.Generator
	Events kafka.Publisher
	Logger *zap.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

func (d *Deps) withDefaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Events == nil {
		d.Events = kafka.Nop{}
	}
	if d.Locker == nil {
		d.Locker = lock.NewKeyedMutex()
	}
	if d.IDs == nil {
		d.IDs, _ = snowflake.NewGenerator(0)
	}
}

// Subscriptions is the realtime side of room membership. Connections of a
// removed member stop receiving the room's events.
type Subscriptions interface {
	RemoveUserFromRoom(userID, roomID string)
	CloseRoom(roomID string)
}

// Broadcaster pushes realtime events to connected clients.
type Broadcaster interface {
	// PublishMessage delivers payload to the room topic, skipping the
	// connections of excludeUserID, and to every member's identity topic.
	PublishMessage(roomID string, payload any, excludeUserID string)
	// NotifyUsers delivers event to every connection of the given users.
	NotifyUsers(userIDs []string, event string, payload any)
}

// NopBroadcaster drops every event.
type NopBroadcaster struct{}

func (NopBroadcaster) PublishMessage(string, any, string) {}
func (NopBroadcaster) NotifyUsers([]string, string, any)  {}

func roomLockKey(chatID string) string {
	return "chat:" + chatID
}

// withRoomLock serializes membership changes of one room.
func withRoomLock(ctx context.Context, l lock.Locker, chatID string, fn func() error) error {
	unlock, err := l.Lock(ctx, roomLockKey(chatID))
	if err != nil {
		return errs.Upstream("failed to lock chat", err)
	}
	defer unlock()
	return fn()
}

// notFoundOr maps repository.ErrNotFound to notFound and wraps anything
// else as an upstream failure.
func notFoundOr(err error, notFound *errs.Error, message string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return errs.Upstream(message, err)
}

// nextID returns a snowflake id for rows that need insertion order.
func (d *Deps) nextID() (int64, error) {
	id, err := d.IDs.NextID()
	if err != nil {
		return 0, errs.Upstream("failed to allocate id", err)
	}
	return id, nil
}

func (d *Deps) publish(ctx context.Context, event kafka.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.Now()
	}
	if err := d.Events.Publish(ctx, event); err != nil {
		d.Logger.Warn("publish domain event failed", zap.String("type", event.Type), zap.Error(err))
	}
}
