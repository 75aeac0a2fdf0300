package memory

import (
	"context"
	"slices"
	"time"

	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/repository"
)

type InviteRepository struct {
	s *Store
}

func (r *InviteRepository) Create(_ context.Context, code *model.InviteCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.invites[code.ID]; ok {
		return repository.ErrDuplicate
	}
	if code.IsActive {
		for _, c := range r.s.invites {
			if c.IsActive && c.Code == code.Code {
				return repository.ErrDuplicate
			}
		}
	}
	r.s.invites[code.ID] = r.detach(code)
	return nil
}

// detach stamps code and returns a stored copy that shares nothing with it.
func (r *InviteRepository) detach(code *model.InviteCode) *model.InviteCode {
	stamp(&code.CreatedAt, &code.UpdatedAt)
	c := *code
	c.Redemptions = nil
	if code.MaxUses != nil {
		n := *code.MaxUses
		c.MaxUses = &n
	}
	return &c
}

func (r *InviteRepository) FindByID(_ context.Context, id string) (*model.InviteCode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.invites[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.copy(c), nil
}

func (r *InviteRepository) FindActiveByCode(_ context.Context, code string) (*model.InviteCode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, c := range r.s.invites {
		if c.IsActive && c.Code == code {
			return r.copy(c), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *InviteRepository) ExistsActive(_ context.Context, code string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, c := range r.s.invites {
		if c.IsActive && c.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *InviteRepository) ListActiveCodes(_ context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var codes []string
	for _, c := range r.s.invites {
		if c.IsActive {
			codes = append(codes, c.Code)
		}
	}
	return codes, nil
}

func (r *InviteRepository) ListActiveByChat(_ context.Context, chatID string, now time.Time) ([]*model.InviteCode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var codes []*model.InviteCode
	for _, c := range r.s.invites {
		if c.ChatID == chatID && c.IsActive && c.ExpiresAt.After(now) {
			codes = append(codes, r.copy(c))
		}
	}
	slices.SortFunc(codes, func(a, b *model.InviteCode) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return codes, nil
}

func (r *InviteRepository) Deactivate(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.invites[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.IsActive = false
	c.UpdatedAt = time.Now()
	return nil
}

func (r *InviteRepository) Replace(_ context.Context, code *model.InviteCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.invites[code.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, c := range r.s.invites {
		if c.IsActive && c.Code == code.Code && c.ChatID != code.ChatID {
			return repository.ErrDuplicate
		}
	}
	now := time.Now()
	for _, c := range r.s.invites {
		if c.ChatID == code.ChatID && c.IsActive {
			c.IsActive = false
			c.UpdatedAt = now
		}
	}
	r.s.invites[code.ID] = r.detach(code)
	return nil
}

func (r *InviteRepository) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, c := range r.s.invites {
		if c.IsActive && c.ExpiresAt.Before(now) {
			c.IsActive = false
			c.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *InviteRepository) RedeemJoin(_ context.Context, member *model.ChatMember, redemption *model.InviteRedemption) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	room, ok := r.s.rooms[member.ChatID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.s.isMember(member.ChatID, member.UserID) {
		return repository.ErrDuplicate
	}
	c, ok := r.s.invites[redemption.InviteCodeID]
	if !ok {
		return repository.ErrNotFound
	}

	if member.JoinedAt.IsZero() {
		member.JoinedAt = redemption.UsedAt
	}
	r.s.members[member.ChatID] = append(r.s.members[member.ChatID], *member)
	room.UpdatedAt = time.Now()
	c.UsageCount++
	c.UpdatedAt = redemption.UsedAt
	r.s.redemptions[c.ID] = append(r.s.redemptions[c.ID], *redemption)
	return nil
}

func (r *InviteRepository) CountByChat(_ context.Context, chatID string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, c := range r.s.invites {
		if c.ChatID == chatID {
			n++
		}
	}
	return n, nil
}

func (r *InviteRepository) copy(c *model.InviteCode) *model.InviteCode {
	out := *c
	if c.MaxUses != nil {
		n := *c.MaxUses
		out.MaxUses = &n
	}
	out.Redemptions = slices.Clone(r.s.redemptions[c.ID])
	return &out
}
