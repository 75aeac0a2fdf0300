package service

import (
	"context"
	"errors"
	"strings"
	"time"

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
	DefaultInviteTTL = 60 * time.Minute
	MaxInviteMinutes = 24 * 60
)

// GenerateInviteRequest is the body of POST /invite-codes.
type GenerateInviteRequest struct {
	ChatID        string `json:"chatId" binding:"required"`
	ExpiryMinutes int    `json:"expiryMinutes"`
	MaxUses       *int   `json:"maxUses"`
}

// RegenerateInviteRequest is the body of POST /invite-codes/regenerate.
type RegenerateInviteRequest struct {
	ChatID string `json:"chatId" binding:"required"`
}

// RedeemRequest is the body of POST /invite-codes/redeem.
type RedeemRequest struct {
	Code string `json:"code" binding:"required"`
}

// RedeemResult reports the room joined. Joined is false when the user was
// already a member and nothing changed.
type RedeemResult struct {
	Room   *model.ChatRoom
	Joined bool
}

// IInviteService creates, validates and consumes invite codes.
type IInviteService interface {
	Generate(ctx context.Context, chatID, actorID string, ttlMinutes int, maxUses *int) (*model.InviteCode, error)
	Regenerate(ctx context.Context, chatID, actorID string) (*model.InviteCode, error)
	Redeem(ctx context.Context, code, userID string) (*RedeemResult, error)
	Deactivate(ctx context.Context, codeID, actorID string) error
	ListActive(ctx context.Context, chatID, actorID string) ([]*model.InviteCode, error)
	IsValid(code *model.InviteCode) bool
	View(code *model.InviteCode) *InviteView
}

// InviteService implements IInviteService
type InviteService struct {
	Deps
	cfg   config.InviteConfig
	chats *ChatService
	codes *CodeGenerator
}

// NewInviteService creates a new InviteService instance
func NewInviteService(deps Deps, cfg config.InviteConfig, chats *ChatService, codes *CodeGenerator) *InviteService {
	deps.withDefaults()
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultInviteTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 50
	}
	return &InviteService{Deps: deps, cfg: cfg, chats: chats, codes: codes}
}

// Generate mints a code for a room the actor belongs to. Earlier active
// codes of the room are deactivated first, so a room has at most one.
func (s *InviteService) Generate(ctx context.Context, chatID, actorID string, ttlMinutes int, maxUses *int) (*model.InviteCode, error) {
	ttl := s.cfg.DefaultTTL
	if ttlMinutes != 0 {
		if ttlMinutes < 1 || ttlMinutes > MaxInviteMinutes {
			return nil, errs.Validation("expiry must be between 1 and %d minutes", MaxInviteMinutes)
		}
		ttl = time.Duration(ttlMinutes) * time.Minute
	}
	if maxUses != nil && *maxUses < 1 {
		return nil, errs.Validation("max uses must be at least 1")
	}

	var code *model.InviteCode
	err := withRoomLock(ctx, s.Locker, chatID, func() error {
		room, err := s.liveRoom(ctx, chatID)
		if err != nil {
			return err
		}
		if !room.HasMember(actorID) {
			return ErrNotMember
		}

		expiresAt := s.Now().Add(ttl)
		if room.ExpiresAt != nil && room.ExpiresAt.Before(expiresAt) {
			expiresAt = *room.ExpiresAt
		}
		code, err = s.replace(ctx, room, actorID, expiresAt, maxUses)
		return err
	})
	if err != nil {
		return nil, err
	}
	return code, nil
}

// Regenerate replaces the room's active code with a fresh one that lives
// as long as the room; admin only.
func (s *InviteService) Regenerate(ctx context.Context, chatID, actorID string) (*model.InviteCode, error) {
	var code *model.InviteCode
	err := withRoomLock(ctx, s.Locker, chatID, func() error {
		room, err := s.liveRoom(ctx, chatID)
		if err != nil {
			return err
		}
		if !room.IsAdmin(actorID) {
			return ErrNotAdmin
		}

		expiresAt := s.Now().Add(s.chats.cfg.DefaultTTL)
		if room.ExpiresAt != nil {
			expiresAt = *room.ExpiresAt
		}
		code, err = s.replace(ctx, room, actorID, expiresAt, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return code, nil
}

func (s *InviteService) liveRoom(ctx context.Context, chatID string) (*model.ChatRoom, error) {
	room, err := s.Chats.FindByID(ctx, chatID)
	if err != nil {
		return nil, notFoundOr(err, ErrChatNotFound, "failed to load chat")
	}
	if room.IsExpired(s.Now()) {
		return nil, ErrChatExpired
	}
	if !room.IsGroupChat {
		return nil, ErrDirectChat
	}
	return room, nil
}

// replace deactivates the room's codes and inserts a new one in a single
// write. A unique index violation means another instance issued the same
// token; draw again.
func (s *InviteService) replace(ctx context.Context, room *model.ChatRoom, actorID string, expiresAt time.Time, maxUses *int) (*model.InviteCode, error) {
	for range s.cfg.MaxAttempts {
		token, err := s.codes.Next(ctx)
		if err != nil {
			return nil, err
		}
		now := s.Now()
		code := &model.InviteCode{
			ID:        uuid.New().String(),
			Code:      token,
			ChatID:    room.ID,
			CreatedBy: actorID,
			ExpiresAt: expiresAt,
			IsActive:  true,
			MaxUses:   maxUses,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.Invites.Replace(ctx, code)
		s.codes.Remember(token)
		if errors.Is(err, repository.ErrDuplicate) {
			s.Logger.Warn("invite code collided on insert", zap.String("chat_id", room.ID))
			continue
		}
		if err != nil {
			return nil, errs.Upstream("failed to create invite code", err)
		}

		s.Logger.Info("invite code created",
			zap.String("chat_id", room.ID),
			zap.String("code_id", code.ID),
			zap.Time("expires_at", expiresAt),
		)
		s.publish(ctx, kafka.Event{
			Type:       kafka.EventInviteCreated,
			ChatID:     room.ID,
			ActorID:    actorID,
			Attributes: map[string]any{"code_id": code.ID, "expires_at": expiresAt},
		})
		return code, nil
	}
	return nil, ErrCodeSpaceExhausted
}

// Redeem joins userID to the room bound to code. A user who is already a
// member gets the room back without using up the code.
func (s *InviteService) Redeem(ctx context.Context, code, userID string) (*RedeemResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, errs.Validation("invite code is required")
	}
	found, err := s.Invites.FindActiveByCode(ctx, code)
	if err != nil {
		metrics.InviteRedemptionsTotal.WithLabelValues("not_found").Inc()
		return nil, notFoundOr(err, ErrCodeNotFound, "failed to find invite code")
	}

	var result *RedeemResult
	err = withRoomLock(ctx, s.Locker, found.ChatID, func() error {
		invite, err := s.Invites.FindByID(ctx, found.ID)
		if err != nil {
			return notFoundOr(err, ErrCodeNotFound, "failed to load invite code")
		}
		room, err := s.Chats.FindByID(ctx, invite.ChatID)
		if err != nil {
			return notFoundOr(err, ErrChatNotFound, "failed to load chat")
		}
		// membership is checked before validity so a retried redeem by
		// someone it already admitted succeeds even once the code is used up
		if room.HasMember(userID) {
			result = &RedeemResult{Room: room}
			return nil
		}
		now := s.Now()
		if !invite.IsValid(now) {
			return ErrCodeInvalid
		}

		room, member, err := s.chats.admitLocked(ctx, room.ID, userID)
		if err != nil {
			return err
		}
		id, err := s.nextID()
		if err != nil {
			return err
		}
		err = s.Invites.RedeemJoin(ctx, &member, &model.InviteRedemption{
			ID:           id,
			InviteCodeID: invite.ID,
			UserID:       userID,
			UsedAt:       now,
		})
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrCodeNotFound
			}
			return memberInsertErr(err)
		}
		result = &RedeemResult{Room: s.chats.joined(ctx, room, member), Joined: true}
		return nil
	})
	if err != nil {
		metrics.InviteRedemptionsTotal.WithLabelValues(redeemOutcome(err)).Inc()
		return nil, err
	}

	if result.Joined {
		metrics.InviteRedemptionsTotal.WithLabelValues("joined").Inc()
		s.publish(ctx, kafka.Event{
			Type:       kafka.EventInviteRedeemed,
			ChatID:     result.Room.ID,
			ActorID:    userID,
			Attributes: map[string]any{"code_id": found.ID},
		})
	} else {
		metrics.InviteRedemptionsTotal.WithLabelValues("rejoined").Inc()
	}
	return result, nil
}

func redeemOutcome(err error) string {
	switch {
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, errs.ErrExpired):
		return "expired"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Deactivate turns a code off. Only its creator or the room admin may do
// so; deactivating an inactive code is a no-op.
func (s *InviteService) Deactivate(ctx context.Context, codeID, actorID string) error {
	code, err := s.Invites.FindByID(ctx, codeID)
	if err != nil {
		return notFoundOr(err, ErrCodeNotFound, "failed to load invite code")
	}
	if code.CreatedBy != actorID {
		room, err := s.Chats.FindByID(ctx, code.ChatID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return errs.Upstream("failed to load chat", err)
		}
		if room == nil || !room.IsAdmin(actorID) {
			return ErrCannotDeactivate
		}
	}
	if !code.IsActive {
		return nil
	}
	if err := s.Invites.Deactivate(ctx, codeID); err != nil {
		return notFoundOr(err, ErrCodeNotFound, "failed to deactivate invite code")
	}
	s.Logger.Info("invite code deactivated", zap.String("code_id", codeID), zap.String("actor_id", actorID))
	return nil
}

// ListActive returns the room's usable-by-time codes, newest first.
func (s *InviteService) ListActive(ctx context.Context, chatID, actorID string) ([]*model.InviteCode, error) {
	if _, err := s.chats.Get(ctx, chatID, actorID); err != nil {
		return nil, err
	}
	codes, err := s.Invites.ListActiveByChat(ctx, chatID, s.Now())
	if err != nil {
		return nil, errs.Upstream("failed to list invite codes", err)
	}
	return codes, nil
}

func (s *InviteService) IsValid(code *model.InviteCode) bool {
	return code.IsValid(s.Now())
}

func (s *InviteService) View(code *model.InviteCode) *InviteView {
	return inviteView(code, s.Now())
}

// RefreshCodes rebuilds the generator's filter from the store.
func (s *InviteService) RefreshCodes(ctx context.Context) {
	if err := s.codes.Refresh(ctx); err != nil {
		s.Logger.Warn("failed to refresh invite code filter", zap.Error(err))
	}
}
