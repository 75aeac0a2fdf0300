package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gopher0727/TimeChat/config"
	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/pkg/errs"
	"github.com/Gopher0727/TimeChat/internal/pkg/kafka"
	"github.com/Gopher0727/TimeChat/internal/pkg/metrics"
	"github.com/Gopher0727/TimeChat/internal/repository"
)

const (
	DefaultRoomTTL    = 5 * time.Hour
	DefaultMaxMembers = 50
	DefaultGlobalRoom = "Global Chat"
)

// CreateRoomInput describes a new room. TTL nil means the configured
// default; Permanent rooms never expire and are reserved for the global room.
type CreateRoomInput struct {
	Name      string
	MemberIDs []string
	IsGroup   bool
	TTL       *time.Duration
	Permanent bool
}

// CreateGroupRequest is the body of POST /chats/group.
type CreateGroupRequest struct {
	Name    string   `json:"name" binding:"required"`
	UserIDs []string `json:"users"`
}

// DirectChatRequest is the body of POST /chats.
type DirectChatRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// RenameRequest is the body of PUT /chats/:id.
type RenameRequest struct {
	Name string `json:"name" binding:"required"`
}

// MemberRequest is the body of PUT /chats/:id/add and /remove.
type MemberRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// IChatService owns room creation, membership, expiry and cascading deletion.
type IChatService interface {
	CreateRoom(ctx context.Context, creatorID string, in CreateRoomInput) (*model.ChatRoom, error)
	CreateOrGetDirectChat(ctx context.Context, userA, userB string) (*model.ChatRoom, error)
	AddMember(ctx context.Context, chatID, userID string) (*model.ChatRoom, error)
	AddMemberByAdmin(ctx context.Context, chatID, actorID, userID string) (*model.ChatRoom, error)
	RemoveMember(ctx context.Context, chatID, userID string) (deleted bool, err error)
	RemoveMemberByAdmin(ctx context.Context, chatID, actorID, userID string) (deleted bool, err error)
	Leave(ctx context.Context, chatID, userID string) (deleted bool, err error)
	Rename(ctx context.Context, chatID, actorID, name string) (*model.ChatRoom, error)
	Get(ctx context.Context, chatID, userID string) (*model.ChatRoom, error)
	ListForUser(ctx context.Context, userID string) ([]*model.ChatRoom, error)
	JoinGlobal(ctx context.Context, userID string) (*model.ChatRoom, error)
	ExportHistory(ctx context.Context, chatID, userID string) (*ExportView, error)
	MemberIDs(ctx context.Context, chatID string) ([]string, error)
	TimeRemaining(room *model.ChatRoom) (time.Duration, bool)
	IsExpired(room *model.ChatRoom) bool
	SweepExpired(ctx context.Context) (int, error)
	View(ctx context.Context, room *model.ChatRoom) (*ChatView, error)
	Views(ctx context.Context, rooms []*model.ChatRoom) ([]*ChatView, error)
}

// ChatService implements IChatService
type ChatService struct {
	Deps
	cfg     config.ChatConfig
	proj    projector
	onSweep func(ctx context.Context)
	subs    Subscriptions
}

// NewChatService creates a new ChatService instance
func NewChatService(deps Deps, cfg config.ChatConfig) *ChatService {
	deps.withDefaults()
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultRoomTTL
	}
	if cfg.MaxMembers <= 0 {
		cfg.MaxMembers = DefaultMaxMembers
	}
	if cfg.NameMaxLength <= 0 {
		cfg.NameMaxLength = 100
	}
	if cfg.GlobalRoomName == "" {
		cfg.GlobalRoomName = DefaultGlobalRoom
	}
	return &ChatService{
		Deps: deps,
		cfg:  cfg,
		proj: projector{users: deps.Users, messages: deps.Messages},
	}
}

// OnSweep registers a hook run after every sweep, used to rebuild the
// active invite code filter.
func (s *ChatService) OnSweep(fn func(ctx context.Context)) {
	s.onSweep = fn
}

// OnMembershipChange registers the realtime subscriptions to prune when a
// member is removed or a room is deleted.
func (s *ChatService) OnMembershipChange(subs Subscriptions) {
	s.subs = subs
}

func (s *ChatService) validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errs.Validation("chat name is required")
	}
	if utf8.RuneCountInString(name) > s.cfg.NameMaxLength {
		return "", errs.Validation("chat name must be at most %d characters", s.cfg.NameMaxLength)
	}
	return name, nil
}

// CreateRoom creates a room with the creator as admin and first member.
func (s *ChatService) CreateRoom(ctx context.Context, creatorID string, in CreateRoomInput) (*model.ChatRoom, error) {
	name, err := s.validName(in.Name)
	if err != nil {
		return nil, err
	}
	if in.Permanent && name != s.cfg.GlobalRoomName {
		return nil, errs.Validation("only the global room may be created without expiry")
	}

	memberIDs := []string{creatorID}
	for _, id := range in.MemberIDs {
		if id != "" && !slices.Contains(memberIDs, id) {
			memberIDs = append(memberIDs, id)
		}
	}
	isGroup := in.IsGroup || len(memberIDs) > 2
	if !isGroup && len(memberIDs) != 2 {
		return nil, errs.Validation("a direct chat needs exactly two members")
	}
	if len(memberIDs) > s.cfg.MaxMembers {
		return nil, ErrRoomFull
	}
	users, err := s.Users.FindByIDs(ctx, memberIDs)
	if err != nil {
		return nil, errs.Upstream("failed to load members", err)
	}
	if len(users) != len(memberIDs) {
		return nil, ErrUserNotFound
	}

	now := s.Now()
	room := &model.ChatRoom{
		ID:           uuid.New().String(),
		Name:         name,
		IsGroupChat:  isGroup,
		GroupAdminID: &creatorID,
		MaxMembers:   s.cfg.MaxMembers,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !in.Permanent {
		ttl := s.cfg.DefaultTTL
		if in.TTL != nil && *in.TTL > 0 {
			ttl = *in.TTL
		}
		expiresAt := now.Add(ttl)
		room.ExpiresAt = &expiresAt
	}
	for _, id := range memberIDs {
		memberID, err := s.nextID()
		if err != nil {
			return nil, err
		}
		room.Members = append(room.Members, model.ChatMember{
			ID:       memberID,
			ChatID:   room.ID,
			UserID:   id,
			JoinedAt: now,
		})
	}

	if err := s.Chats.Create(ctx, room); err != nil {
		return nil, errs.Upstream("failed to create chat", err)
	}
	s.Logger.Info("chat created",
		zap.String("chat_id", room.ID),
		zap.String("creator_id", creatorID),
		zap.Bool("group", isGroup),
		zap.Int("members", len(memberIDs)),
	)
	s.publish(ctx, kafka.Event{
		Type:    kafka.EventChatCreated,
		ChatID:  room.ID,
		ActorID: creatorID,
		Attributes: map[string]any{
			"group":   isGroup,
			"members": len(memberIDs),
		},
	})
	return room, nil
}

// CreateOrGetDirectChat returns the live direct chat between a and b,
// creating it when none exists. The chat is named after the peer.
func (s *ChatService) CreateOrGetDirectChat(ctx context.Context, userA, userB string) (*model.ChatRoom, error) {
	if userB == "" || userA == userB {
		return nil, errs.Validation("a direct chat needs another user")
	}
	peer, err := s.Users.FindByID(ctx, userB)
	if err != nil {
		return nil, notFoundOr(err, ErrUserNotFound, "failed to load user")
	}

	pair := []string{userA, userB}
	slices.Sort(pair)

	var room *model.ChatRoom
	err = withRoomLock(ctx, s.Locker, "direct:"+pair[0]+":"+pair[1], func() error {
		existing, err := s.Chats.FindDirect(ctx, userA, userB)
		switch {
		case err == nil && !existing.IsExpired(s.Now()):
			room = existing
			return nil
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return errs.Upstream("failed to find direct chat", err)
		}
		room, err = s.CreateRoom(ctx, userA, CreateRoomInput{
			Name:      peer.Name,
			MemberIDs: []string{userB},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// AddMember adds userID to the room. It is the path shared by invite
// redemption and admin edits; the caller holds no lock.
func (s *ChatService) AddMember(ctx context.Context, chatID, userID string) (*model.ChatRoom, error) {
	var room *model.ChatRoom
	err := withRoomLock(ctx, s.Locker, chatID, func() error {
		var err error
		room, err = s.addMemberLocked(ctx, chatID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// addMemberLocked re-reads the room so the capacity check and the insert
// see the same membership.
func (s *ChatService) addMemberLocked(ctx context.Context, chatID, userID string) (*model.ChatRoom, error) {
	room, member, err := s.admitLocked(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.Chats.AddMember(ctx, &member); err != nil {
		return nil, memberInsertErr(err)
	}
	return s.joined(ctx, room, member), nil
}

// admitLocked checks that userID may join the room and builds the
// membership row without storing it.
func (s *ChatService) admitLocked(ctx context.Context, chatID, userID string) (*model.ChatRoom, model.ChatMember, error) {
	room, err := s.Chats.FindByID(ctx, chatID)
	if err != nil {
		return nil, model.ChatMember{}, notFoundOr(err, ErrChatNotFound, "failed to load chat")
	}
	if room.IsExpired(s.Now()) {
		return nil, model.ChatMember{}, ErrChatExpired
	}
	if !room.IsGroupChat {
		return nil, model.ChatMember{}, ErrDirectChat
	}
	if room.HasMember(userID) {
		return nil, model.ChatMember{}, ErrAlreadyMember
	}
	if len(room.Members) >= room.MaxMembers {
		return nil, model.ChatMember{}, ErrRoomFull
	}

	id, err := s.nextID()
	if err != nil {
		return nil, model.ChatMember{}, err
	}
	return room, model.ChatMember{ID: id, ChatID: chatID, UserID: userID, JoinedAt: s.Now()}, nil
}

// joined records a stored membership on room and announces it.
func (s *ChatService) joined(ctx context.Context, room *model.ChatRoom, member model.ChatMember) *model.ChatRoom {
	room.Members = append(room.Members, member)
	s.publish(ctx, kafka.Event{Type: kafka.EventMemberJoined, ChatID: room.ID, ActorID: member.UserID})
	return room
}

func memberInsertErr(err error) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return ErrAlreadyMember
	}
	return errs.Upstream("failed to add member", err)
}

// AddMemberByAdmin lets the group admin add an existing user.
func (s *ChatService) AddMemberByAdmin(ctx context.Context, chatID, actorID, userID string) (*model.ChatRoom, error) {
	room, err := s.Chats.FindByID(ctx, chatID)
	if err != nil {
		return nil, notFoundOr(err, ErrChatNotFound, "failed to load chat")
	}
	if !room.IsGroupChat {
		return nil, ErrDirectChat
	}
	if !room.IsAdmin(actorID) {
		return nil, ErrNotAdmin
	}
	if _, err := s.Users.FindByID(ctx, userID); err != nil {
		return nil, notFoundOr(err, ErrUserNotFound, "failed to load user")
	}
	return s.AddMember(ctx, chatID, userID)
}

// RemoveMember drops userID from the room. An admin who leaves hands the
// role to the first remaining member. When nobody is left, or when either
// side leaves a direct chat, the room is deleted with everything it owns.
func (s *ChatService) RemoveMember(ctx context.Context, chatID, userID string) (bool, error) {
	var deleted bool
	err := withRoomLock(ctx, s.Locker, chatID, func() error {
		room, err := s.Chats.FindByID(ctx, chatID)
		if err != nil {
			return notFoundOr(err, ErrChatNotFound, "failed to load chat")
		}
		if !room.HasMember(userID) {
			return ErrNotMember
		}

		if !room.IsGroupChat || len(room.Members) == 1 {
			if err := s.deleteRoom(ctx, chatID, userID); err != nil {
				return err
			}
			deleted = true
			return nil
		}

		if err := s.Chats.RemoveMember(ctx, chatID, userID); err != nil {
			return notFoundOr(err, ErrNotMember, "failed to remove member")
		}
		if room.IsAdmin(userID) {
			next := nextAdmin(room.MemberIDs(), userID)
			if err := s.Chats.SetAdmin(ctx, chatID, &next); err != nil {
				return errs.Upstream("failed to reassign admin", err)
			}
			s.Logger.Info("chat admin reassigned",
				zap.String("chat_id", chatID),
				zap.String("from", userID),
				zap.String("to", next),
			)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !deleted {
		if s.subs != nil {
			s.subs.RemoveUserFromRoom(userID, chatID)
		}
		s.publish(ctx, kafka.Event{Type: kafka.EventMemberLeft, ChatID: chatID, ActorID: userID})
	}
	return deleted, nil
}

// nextAdmin picks the first listed member other than leaving.
func nextAdmin(memberIDs []string, leaving string) string {
	for _, id := range memberIDs {
		if id != leaving {
			return id
		}
	}
	return ""
}

// RemoveMemberByAdmin lets the group admin remove someone else.
func (s *ChatService) RemoveMemberByAdmin(ctx context.Context, chatID, actorID, userID string) (bool, error) {
	room, err := s.Chats.FindByID(ctx, chatID)
	if err != nil {
		return false, notFoundOr(err, ErrChatNotFound, "failed to load chat")
	}
	if !room.IsGroupChat {
		return false, ErrDirectChat
	}
	if !room.IsAdmin(actorID) {
		return false, ErrNotAdmin
	}
	return s.RemoveMember(ctx, chatID, userID)
}

func (s *ChatService) Leave(ctx context.Context, chatID, userID string) (bool, error) {
	return s.RemoveMember(ctx, chatID, userID)
}

// Rename changes the name of a group room; admin only.
func (s *ChatService) Rename(ctx context.Context, chatID, actorID, name string) (*model.ChatRoom, error) {
	name, err := s.validName(name)
	if err != nil {
		return nil, err
	}
	room, err := s.Chats.FindByID(ctx, chatID)
	if err != nil {
		return nil, notFoundOr(err, ErrChatNotFound, "failed to load chat")
	}
	if !room.IsGroupChat {
		return nil, ErrDirectChat
	}
	if !room.IsAdmin(actorID) {
		return nil, ErrNotAdmin
	}
	if err := s.Chats.Rename(ctx, chatID, name); err != nil {
		return nil, notFoundOr(err, ErrChatNotFound, "failed to rename chat")
	}
	room.Name = name
	return room, nil
}

// Get returns a room the user belongs to.
func (s *ChatService) Get(ctx context.Context, chatID, userID string) (*model.ChatRoom, error) {
	room, err := s.Chats.FindByID(ctx, chatID)
	if err != nil {
		return nil, notFoundOr(err, ErrChatNotFound, "failed to load chat")
	}
	if !room.HasMember(userID) {
		return nil, ErrNotMember
	}
	return room, nil
}

// ListForUser returns the user's rooms that have not expired.
func (s *ChatService) ListForUser(ctx context.Context, userID string) ([]*model.ChatRoom, error) {
	rooms, err := s.Chats.ListByMember(ctx, userID, s.Now())
	if err != nil {
		return nil, errs.Upstream("failed to list chats", err)
	}
	return rooms, nil
}

// JoinGlobal finds or creates the permanent global room and adds the user.
// Joining twice is not an error.
func (s *ChatService) JoinGlobal(ctx context.Context, userID string) (*model.ChatRoom, error) {
	var room *model.ChatRoom
	err := withRoomLock(ctx, s.Locker, "global", func() error {
		existing, err := s.Chats.FindGlobal(ctx, s.cfg.GlobalRoomName)
		switch {
		case err == nil:
			room = existing
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return errs.Upstream("failed to find global chat", err)
		}
		room, err = s.CreateRoom(ctx, userID, CreateRoomInput{
			Name:      s.cfg.GlobalRoomName,
			IsGroup:   true,
			Permanent: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if room.HasMember(userID) {
		return room, nil
	}

	joined, err := s.AddMember(ctx, room.ID, userID)
	if errors.Is(err, ErrAlreadyMember) {
		return s.Get(ctx, room.ID, userID)
	}
	return joined, err
}

// ExportHistory returns the room with every message, for members.
func (s *ChatService) ExportHistory(ctx context.Context, chatID, userID string) (*ExportView, error) {
	room, err := s.Get(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	view, err := s.View(ctx, room)
	if err != nil {
		return nil, err
	}
	msgs, err := s.Messages.ListByChat(ctx, chatID)
	if err != nil {
		return nil, errs.Upstream("failed to list messages", err)
	}
	msgViews, err := s.proj.messageViews(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return &ExportView{Chat: view, Messages: msgViews, ExportedAt: s.Now()}, nil
}

// MemberIDs lists the members of a room in join order.
func (s *ChatService) MemberIDs(ctx context.Context, chatID string) ([]string, error) {
	ids, err := s.Chats.MemberIDs(ctx, chatID)
	if err != nil {
		return nil, notFoundOr(err, ErrChatNotFound, "failed to list members")
	}
	return ids, nil
}

func (s *ChatService) TimeRemaining(room *model.ChatRoom) (time.Duration, bool) {
	return room.TimeRemaining(s.Now())
}

func (s *ChatService) IsExpired(room *model.ChatRoom) bool {
	return room.IsExpired(s.Now())
}

// SweepExpired deletes every room whose expiry has passed and then
// deactivates expired invite codes. A room that fails to delete is logged
// and skipped. It returns the number of rooms removed.
func (s *ChatService) SweepExpired(ctx context.Context) (int, error) {
	now := s.Now()
	rooms, err := s.Chats.ListExpired(ctx, now)
	if err != nil {
		return 0, errs.Upstream("failed to list expired chats", err)
	}

	removed := 0
	for _, room := range rooms {
		err := withRoomLock(ctx, s.Locker, room.ID, func() error {
			return s.deleteRoom(ctx, room.ID, "")
		})
		switch {
		case err == nil:
			removed++
		case errors.Is(err, ErrChatNotFound):
			// removed concurrently
		default:
			s.Logger.Error("failed to delete expired chat",
				zap.String("chat_id", room.ID),
				zap.Error(err),
			)
		}
	}

	metrics.SweptRoomsTotal.Add(float64(removed))

	codes, err := s.Invites.DeactivateExpired(ctx, now)
	if err != nil {
		s.Logger.Error("failed to deactivate expired invite codes", zap.Error(err))
	}
	if removed > 0 || codes > 0 {
		s.Logger.Info("expired chats swept",
			zap.Int("chats", removed),
			zap.Int64("invite_codes", codes),
		)
	}
	if s.onSweep != nil {
		s.onSweep(ctx)
	}
	return removed, nil
}

// deleteRoom cascades to messages, read marks, invite codes and memberships.
func (s *ChatService) deleteRoom(ctx context.Context, chatID, actorID string) error {
	if err := s.Chats.DeleteCascade(ctx, chatID); err != nil {
		return notFoundOr(err, ErrChatNotFound, "failed to delete chat")
	}
	if s.subs != nil {
		s.subs.CloseRoom(chatID)
	}
	s.Logger.Info("chat deleted", zap.String("chat_id", chatID), zap.String("actor_id", actorID))
	s.publish(ctx, kafka.Event{Type: kafka.EventChatDeleted, ChatID: chatID, ActorID: actorID})
	return nil
}

func (s *ChatService) View(ctx context.Context, room *model.ChatRoom) (*ChatView, error) {
	return s.proj.chatView(ctx, room, s.Now())
}

func (s *ChatService) Views(ctx context.Context, rooms []*model.ChatRoom) ([]*ChatView, error) {
	return s.proj.chatViews(ctx, rooms, s.Now())
}
