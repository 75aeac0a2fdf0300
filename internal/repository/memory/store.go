// Package memory keeps every repository in process memory. It backs the
// "memory" storage driver and the service and handler tests.
package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/repository"
)

// Store is shared by the four repositories so that cascading deletes
// are atomic across tables.
type Store struct {
	mu sync.RWMutex

	users       map[string]*model.User
	rooms       map[string]*model.ChatRoom
	members     map[string][]model.ChatMember // chat id -> members
	messages    map[string]*model.Message
	reads       map[string][]model.MessageRead // message id -> reads
	invites     map[string]*model.InviteCode
	redemptions map[string][]model.InviteRedemption // invite id -> log
}

func NewStore() *Store {
	return &Store{
		users:       make(map[string]*model.User),
		rooms:       make(map[string]*model.ChatRoom),
		members:     make(map[string][]model.ChatMember),
		messages:    make(map[string]*model.Message),
		reads:       make(map[string][]model.MessageRead),
		invites:     make(map[string]*model.InviteCode),
		redemptions: make(map[string][]model.InviteRedemption),
	}
}

func (s *Store) Users() repository.IUserRepository       { return &UserRepository{s: s} }
func (s *Store) Chats() repository.IChatRepository       { return &ChatRepository{s: s} }
func (s *Store) Messages() repository.IMessageRepository { return &MessageRepository{s: s} }
func (s *Store) Invites() repository.IInviteRepository   { return &InviteRepository{s: s} }

func stamp(created, updated *time.Time) {
	now := time.Now()
	if created.IsZero() {
		*created = now
	}
	if updated.IsZero() {
		*updated = now
	}
}

// roomCopy returns a detached room with members attached in join order.
func (s *Store) roomCopy(room *model.ChatRoom) *model.ChatRoom {
	c := *room
	c.Members = slices.Clone(s.members[room.ID])
	slices.SortFunc(c.Members, func(a, b model.ChatMember) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return &c
}

func (s *Store) isMember(chatID, userID string) bool {
	return slices.ContainsFunc(s.members[chatID], func(m model.ChatMember) bool {
		return m.UserID == userID
	})
}
