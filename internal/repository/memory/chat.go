package memory

import (
	"context"
	"slices"
	"time"

	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/repository"
)

type ChatRepository struct {
	s *Store
}

func (r *ChatRepository) Create(_ context.Context, room *model.ChatRoom) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.rooms[room.ID]; ok {
		return repository.ErrDuplicate
	}
	stamp(&room.CreatedAt, &room.UpdatedAt)
	c := *room
	c.Members = nil
	r.s.rooms[room.ID] = &c

	members := make([]model.ChatMember, len(room.Members))
	for i, m := range room.Members {
		m.ChatID = room.ID
		if m.JoinedAt.IsZero() {
			m.JoinedAt = room.CreatedAt
		}
		members[i] = m
	}
	r.s.members[room.ID] = members
	return nil
}

func (r *ChatRepository) FindByID(_ context.Context, id string) (*model.ChatRoom, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	room, ok := r.s.rooms[id]
	if !ok || !room.IsActive {
		return nil, repository.ErrNotFound
	}
	return r.s.roomCopy(room), nil
}

func (r *ChatRepository) FindDirect(_ context.Context, userA, userB string) (*model.ChatRoom, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var found *model.ChatRoom
	for _, room := range r.s.rooms {
		if room.IsGroupChat || !room.IsActive {
			continue
		}
		if !r.s.isMember(room.ID, userA) || !r.s.isMember(room.ID, userB) {
			continue
		}
		if found == nil || room.CreatedAt.After(found.CreatedAt) {
			found = room
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return r.s.roomCopy(found), nil
}

func (r *ChatRepository) FindGlobal(_ context.Context, name string) (*model.ChatRoom, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var found *model.ChatRoom
	for _, room := range r.s.rooms {
		if room.Name != name || room.ExpiresAt != nil || !room.IsGroupChat || !room.IsActive {
			continue
		}
		if found == nil || room.CreatedAt.Before(found.CreatedAt) {
			found = room
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return r.s.roomCopy(found), nil
}

func (r *ChatRepository) ListByMember(_ context.Context, userID string, now time.Time) ([]*model.ChatRoom, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var rooms []*model.ChatRoom
	for _, room := range r.s.rooms {
		if !room.IsActive || (room.ExpiresAt != nil && !room.ExpiresAt.After(now)) {
			continue
		}
		if r.s.isMember(room.ID, userID) {
			rooms = append(rooms, r.s.roomCopy(room))
		}
	}
	slices.SortFunc(rooms, func(a, b *model.ChatRoom) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return rooms, nil
}

func (r *ChatRepository) ListExpired(_ context.Context, now time.Time) ([]*model.ChatRoom, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var rooms []*model.ChatRoom
	for _, room := range r.s.rooms {
		if room.ExpiresAt != nil && room.ExpiresAt.Before(now) {
			c := *room
			c.Members = nil
			rooms = append(rooms, &c)
		}
	}
	slices.SortFunc(rooms, func(a, b *model.ChatRoom) int { return a.ExpiresAt.Compare(*b.ExpiresAt) })
	return rooms, nil
}

func (r *ChatRepository) MemberIDs(_ context.Context, chatID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	room, ok := r.s.rooms[chatID]
	if !ok {
		return []string{}, nil
	}
	return r.s.roomCopy(room).MemberIDs(), nil
}

func (r *ChatRepository) AddMember(_ context.Context, member *model.ChatMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	room, ok := r.s.rooms[member.ChatID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.s.isMember(member.ChatID, member.UserID) {
		return repository.ErrDuplicate
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now()
	}
	r.s.members[member.ChatID] = append(r.s.members[member.ChatID], *member)
	room.UpdatedAt = time.Now()
	return nil
}

func (r *ChatRepository) RemoveMember(_ context.Context, chatID, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	members := r.s.members[chatID]
	i := slices.IndexFunc(members, func(m model.ChatMember) bool { return m.UserID == userID })
	if i < 0 {
		return repository.ErrNotFound
	}
	r.s.members[chatID] = slices.Delete(members, i, i+1)
	if room, ok := r.s.rooms[chatID]; ok {
		room.UpdatedAt = time.Now()
	}
	return nil
}

func (r *ChatRepository) SetAdmin(_ context.Context, chatID string, adminID *string) error {
	return r.update(chatID, func(room *model.ChatRoom) {
		if adminID == nil {
			room.GroupAdminID = nil
			return
		}
		id := *adminID
		room.GroupAdminID = &id
	})
}

func (r *ChatRepository) Rename(_ context.Context, chatID, name string) error {
	return r.update(chatID, func(room *model.ChatRoom) { room.Name = name })
}

func (r *ChatRepository) SetLatestMessage(_ context.Context, chatID, messageID string) error {
	return r.update(chatID, func(room *model.ChatRoom) { room.LatestMessageID = &messageID })
}

func (r *ChatRepository) DeleteCascade(_ context.Context, chatID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.rooms[chatID]; !ok {
		return repository.ErrNotFound
	}
	for id, m := range r.s.messages {
		if m.ChatID == chatID {
			delete(r.s.reads, id)
			delete(r.s.messages, id)
		}
	}
	for id, c := range r.s.invites {
		if c.ChatID == chatID {
			delete(r.s.redemptions, id)
			delete(r.s.invites, id)
		}
	}
	delete(r.s.members, chatID)
	delete(r.s.rooms, chatID)
	return nil
}

func (r *ChatRepository) update(chatID string, fn func(*model.ChatRoom)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	room, ok := r.s.rooms[chatID]
	if !ok {
		return repository.ErrNotFound
	}
	fn(room)
	room.UpdatedAt = time.Now()
	return nil
}
