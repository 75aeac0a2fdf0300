package service

import (
	"context"
	"errors"
	"time"

	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/pkg/errs"
	"github.com/Gopher0727/TimeChat/internal/repository"
)

// ChatView is the client-facing shape of a room. TimeRemaining is in
// seconds and nil for rooms that never expire.
type ChatView struct {
	ID            string              `json:"id"`
	Name          string              `json:"chat_name"`
	IsGroupChat   bool                `json:"is_group_chat"`
	Users         []model.UserSummary `json:"users"`
	GroupAdmin    *model.UserSummary  `json:"group_admin,omitempty"`
	MaxMembers    int                 `json:"max_members"`
	LatestMessage *MessageView        `json:"latest_message,omitempty"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
	TimeRemaining *int64              `json:"time_remaining,omitempty"`
	IsExpired     bool                `json:"is_expired"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// MessageView is a message with its sender resolved.
type MessageView struct {
	ID          string            `json:"id"`
	ChatID      string            `json:"chat_id"`
	Sender      model.UserSummary `json:"sender"`
	Content     string            `json:"content"`
	MessageType model.MessageType `json:"message_type"`
	Attachment  *model.Attachment `json:"attachment,omitempty"`
	ReadBy      []string          `json:"read_by"`
	CreatedAt   time.Time         `json:"created_at"`
}

// InviteView is an invite code as returned to room members.
type InviteView struct {
	ID         string                   `json:"id"`
	Code       string                   `json:"code"`
	ChatID     string                   `json:"chat_id"`
	CreatedBy  string                   `json:"created_by"`
	ExpiresAt  time.Time                `json:"expires_at"`
	IsActive   bool                     `json:"is_active"`
	IsValid    bool                     `json:"is_valid"`
	UsageCount int                      `json:"usage_count"`
	MaxUses    *int                     `json:"max_uses,omitempty"`
	UsedBy     []model.InviteRedemption `json:"used_by"`
	CreatedAt  time.Time                `json:"created_at"`
}

// ExportView is the downloadable history of a room.
type ExportView struct {
	Chat       *ChatView      `json:"chat"`
	Messages   []*MessageView `json:"messages"`
	ExportedAt time.Time      `json:"exported_at"`
}

// projector builds views from entity ids; rooms and messages reference
// users by id only.
type projector struct {
	users    repository.IUserRepository
	messages repository.IMessageRepository
}

func (p projector) summaries(ctx context.Context, ids []string) (map[string]model.UserSummary, error) {
	users, err := p.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, errs.Upstream("failed to load users", err)
	}
	out := make(map[string]model.UserSummary, len(users))
	for _, u := range users {
		out[u.ID] = u.Summary()
	}
	return out, nil
}

func (p projector) chatView(ctx context.Context, room *model.ChatRoom, now time.Time) (*ChatView, error) {
	views, err := p.chatViews(ctx, []*model.ChatRoom{room}, now)
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

func (p projector) chatViews(ctx context.Context, rooms []*model.ChatRoom, now time.Time) ([]*ChatView, error) {
	var ids []string
	for _, r := range rooms {
		ids = append(ids, r.MemberIDs()...)
	}
	users, err := p.summaries(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]*ChatView, 0, len(rooms))
	for _, r := range rooms {
		v := &ChatView{
			ID:          r.ID,
			Name:        r.Name,
			IsGroupChat: r.IsGroupChat,
			Users:       make([]model.UserSummary, 0, len(r.Members)),
			MaxMembers:  r.MaxMembers,
			ExpiresAt:   r.ExpiresAt,
			IsExpired:   r.IsExpired(now),
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
		}
		for _, id := range r.MemberIDs() {
			if u, ok := users[id]; ok {
				v.Users = append(v.Users, u)
			}
		}
		if r.GroupAdminID != nil {
			if u, ok := users[*r.GroupAdminID]; ok {
				v.GroupAdmin = &u
			}
		}
		if remaining, ok := r.TimeRemaining(now); ok {
			secs := int64(remaining / time.Second)
			v.TimeRemaining = &secs
		}
		if r.LatestMessageID != nil {
			latest, err := p.latest(ctx, *r.LatestMessageID, users)
			if err != nil {
				return nil, err
			}
			v.LatestMessage = latest
		}
		views = append(views, v)
	}
	return views, nil
}

func (p projector) latest(ctx context.Context, messageID string, users map[string]model.UserSummary) (*MessageView, error) {
	msg, err := p.messages.FindByID(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Upstream("failed to load latest message", err)
	}
	return messageView(msg, users[msg.SenderID]), nil
}

func (p projector) messageViews(ctx context.Context, msgs []*model.Message) ([]*MessageView, error) {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	users, err := p.summaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	views := make([]*MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView(m, users[m.SenderID])
	}
	return views, nil
}

func messageView(m *model.Message, sender model.UserSummary) *MessageView {
	if sender.ID == "" {
		sender.ID = m.SenderID
	}
	return &MessageView{
		ID:          m.ID,
		ChatID:      m.ChatID,
		Sender:      sender,
		Content:     m.Content,
		MessageType: m.MessageType,
		Attachment:  m.Attachment,
		ReadBy:      m.ReaderIDs(),
		CreatedAt:   m.CreatedAt,
	}
}

func inviteView(c *model.InviteCode, now time.Time) *InviteView {
	usedBy := c.Redemptions
	if usedBy == nil {
		usedBy = []model.InviteRedemption{}
	}
	return &InviteView{
		ID:         c.ID,
		Code:       c.Code,
		ChatID:     c.ChatID,
		CreatedBy:  c.CreatedBy,
		ExpiresAt:  c.ExpiresAt,
		IsActive:   c.IsActive,
		IsValid:    c.IsValid(now),
		UsageCount: c.UsageCount,
		MaxUses:    c.MaxUses,
		UsedBy:     usedBy,
		CreatedAt:  c.CreatedAt,
	}
}
