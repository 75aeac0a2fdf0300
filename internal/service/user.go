package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/pkg/errs"
	"github.com/Gopher0727/TimeChat/internal/pkg/redis"
)

const searchLimit = 10

// IUserService covers lookups and presence.
type IUserService interface {
	Search(ctx context.Context, userID, query string) ([]model.UserSummary, error)
	Get(ctx context.Context, id string) (*model.UserSummary, error)
	SetPresence(ctx context.Context, userID string, online bool) error
}

// UserService implements IUserService. Presence is optional; without it
// only the user record is updated.
type UserService struct {
	Deps
	presence    redis.PresenceStore
	presenceTTL time.Duration
}

func NewUserService(deps Deps, presence redis.PresenceStore, presenceTTL time.Duration) *UserService {
	deps.withDefaults()
	return &UserService{Deps: deps, presence: presence, presenceTTL: presenceTTL}
}

// Search matches name or email, excluding the caller.
func (s *UserService) Search(ctx context.Context, userID, query string) ([]model.UserSummary, error) {
	users, err := s.Users.Search(ctx, strings.TrimSpace(query), userID, searchLimit)
	if err != nil {
		return nil, errs.Upstream("failed to search users", err)
	}
	out := make([]model.UserSummary, len(users))
	for i, u := range users {
		out[i] = u.Summary()
	}
	if err := s.overlayPresence(ctx, out); err != nil {
		s.Logger.Warn("failed to read presence", zap.Error(err))
	}
	return out, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*model.UserSummary, error) {
	user, err := s.Users.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, ErrUserNotFound, "failed to find user")
	}
	summary := []model.UserSummary{user.Summary()}
	if err := s.overlayPresence(ctx, summary); err != nil {
		s.Logger.Warn("failed to read presence", zap.Error(err))
	}
	return &summary[0], nil
}

// overlayPresence replaces the stored online flag with the live one.
func (s *UserService) overlayPresence(ctx context.Context, users []model.UserSummary) error {
	if s.presence == nil || len(users) == 0 {
		return nil
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	online, err := s.presence.OnlineAmong(ctx, ids)
	if err != nil {
		return err
	}
	for i := range users {
		users[i].IsOnline = online[users[i].ID]
	}
	return nil
}

// SetPresence records the user's online state in the user record and, when
// configured, in the shared presence store.
func (s *UserService) SetPresence(ctx context.Context, userID string, online bool) error {
	if err := s.Users.SetPresence(ctx, userID, online, s.Now()); err != nil {
		return notFoundOr(err, ErrUserNotFound, "failed to update presence")
	}
	if s.presence == nil {
		return nil
	}
	var err error
	if online {
		err = s.presence.SetOnline(ctx, userID, s.presenceTTL)
	} else {
		err = s.presence.SetOffline(ctx, userID)
	}
	if err != nil {
		return errs.Upstream("failed to update presence store", err)
	}
	return nil
}
