package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/repository"
)

type MessageRepository struct {
	s *Store
}

func (r *MessageRepository) Create(_ context.Context, message *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.messages[message.ID]; ok {
		return repository.ErrDuplicate
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	c := *message
	c.ReadBy = nil
	if message.Attachment != nil {
		a := *message.Attachment
		c.Attachment = &a
	}
	r.s.messages[message.ID] = &c
	r.s.reads[message.ID] = slices.Clone(message.ReadBy)
	return nil
}

func (r *MessageRepository) FindByID(_ context.Context, id string) (*model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.copy(m), nil
}

func (r *MessageRepository) ListByChat(_ context.Context, chatID string) ([]*model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var messages []*model.Message
	for _, m := range r.s.messages {
		if m.ChatID == chatID {
			messages = append(messages, r.copy(m))
		}
	}
	slices.SortFunc(messages, func(a, b *model.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return messages, nil
}

func (r *MessageRepository) MarkRead(_ context.Context, chatID, userID string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, m := range r.s.messages {
		if m.ChatID != chatID {
			continue
		}
		reads := r.s.reads[id]
		if slices.ContainsFunc(reads, func(rd model.MessageRead) bool { return rd.UserID == userID }) {
			continue
		}
		r.s.reads[id] = append(reads, model.MessageRead{MessageID: id, UserID: userID, ReadAt: at})
		n++
	}
	return n, nil
}

func (r *MessageRepository) CountByChat(_ context.Context, chatID string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, m := range r.s.messages {
		if m.ChatID == chatID {
			n++
		}
	}
	return n, nil
}

func (r *MessageRepository) copy(m *model.Message) *model.Message {
	c := *m
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	c.ReadBy = slices.Clone(r.s.reads[m.ID])
	return &c
}
