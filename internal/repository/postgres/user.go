package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/medbooking/internal/model"
)

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, email, name, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := r.conn(ctx).ExecContext(ctx, query,
		u.ID, u.Email, u.Name, u.Role, u.PasswordHash, u.CreatedAt, u.UpdatedAt,
	)
	return translate(err, "user", u.ID, "create")
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var u model.User
	err := sqlx.GetContext(ctx, r.conn(ctx), &u,
		`SELECT id, email, name, role, password_hash, created_at, updated_at FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, translate(err, "user", id, "get")
	}
	return &u, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var u model.User
	err := sqlx.GetContext(ctx, r.conn(ctx), &u,
		`SELECT id, email, name, role, password_hash, created_at, updated_at FROM users WHERE email = $1`, email)
	if err != nil {
		return nil, translate(err, "user", email, "get")
	}
	return &u, nil
}

func (r *userRepository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	res, err := r.conn(ctx).ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`, hash, id)
	if err != nil {
		return translate(err, "user", id, "update")
	}
	return expectAffected(res, "user", id)
}

func (r *userRepository) UpdateRole(ctx context.Context, id uuid.UUID, role string) error {
	res, err := r.conn(ctx).ExecContext(ctx,
		`UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2`, role, id)
	if err != nil {
		return translate(err, "user", id, "update")
	}
	return expectAffected(res, "user", id)
}

func (r *userRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return translate(err, "user", id, "delete")
	}
	return expectAffected(res, "user", id)
}
