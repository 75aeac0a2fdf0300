package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/Gopher0727/TimeChat/internal/model"
	"github.com/Gopher0727/TimeChat/internal/repository"
)

type UserRepository struct {
	s *Store
}

func (r *UserRepository) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[user.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	stamp(&user.CreatedAt, &user.UpdatedAt)
	c := *user
	r.s.users[user.ID] = &c
	return nil
}

func (r *UserRepository) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *UserRepository) FindByIDs(_ context.Context, ids []string) ([]*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	users := make([]*model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := r.s.users[id]; ok {
			c := *u
			users = append(users, &c)
		}
	}
	return users, nil
}

func (r *UserRepository) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	email = strings.ToLower(email)
	for _, u := range r.s.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *UserRepository) Update(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	user.UpdatedAt = time.Now()
	c := *user
	r.s.users[user.ID] = &c
	return nil
}

func (r *UserRepository) SetPresence(_ context.Context, id string, online bool, lastSeen time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsOnline = online
	u.LastSeen = &lastSeen
	return nil
}

func (r *UserRepository) Search(_ context.Context, query, excludeID string, limit int) ([]*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	query = strings.ToLower(query)
	var users []*model.User
	for _, u := range r.s.users {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Name), query) || strings.Contains(strings.ToLower(u.Email), query) {
			c := *u
			users = append(users, &c)
		}
	}
	slices.SortFunc(users, func(a, b *model.User) int { return strings.Compare(a.Name, b.Name) })
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}
