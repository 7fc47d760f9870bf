package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

type UserRepository struct {
	s *Store
}

func NewUserRepository(s *Store) *UserRepository {
	return &UserRepository{s: s}
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.users {
		if strings.EqualFold(other.Email, u.Email) {
			return apperrors.Conflict(apperrors.CodeEmailTaken, "email already registered")
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	trackKey(ctx, r.s.users, u.ID)
	r.s.users[u.ID] = *u
	return nil
}

func (r *UserRepository) Get(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, apperrors.NotFound("user", email)
}

func (r *UserRepository) modify(ctx context.Context, id uuid.UUID, fn func(*model.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return apperrors.NotFound("user", id)
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	trackKey(ctx, r.s.users, id)
	r.s.users[id] = u
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return r.modify(ctx, id, func(u *model.User) { u.PasswordHash = hash })
}

func (r *UserRepository) UpdateRole(ctx context.Context, id uuid.UUID, role string) error {
	return r.modify(ctx, id, func(u *model.User) { u.Role = role })
}

func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[id]; !ok {
		return apperrors.NotFound("user", id)
	}
	trackKey(ctx, r.s.users, id)
	delete(r.s.users, id)
	return nil
}
