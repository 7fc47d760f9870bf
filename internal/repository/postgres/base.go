package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/medbooking/internal/repository"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

// dialect builds the dynamic filter queries; fixed statements stay as SQL.
var dialect = goqu.Dialect("postgres")

const uniqueViolation = "23505"

// constraint name -> conflict code
var uniqueConflicts = map[string]string{
	"appointments_doctor_active_slot_idx": apperrors.CodeOverbooking,
	"payments_provider_payment_idx":       apperrors.CodeProviderIDTaken,
	"payments_one_pending_idx":            apperrors.CodeDuplicatePending,
	"users_email_key":                     apperrors.CodeEmailTaken,
}

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// WithinTx executes fn within a transaction carried by the context.
// Nested calls join the outer transaction.
func (r *BaseRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if repository.InTx(ctx) {
		return fn(ctx)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx, hooks := repository.Begin(ctx, tx)

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	hooks.Run()
	return nil
}

// conn returns the transaction in ctx or the pool.
func (r *BaseRepository) conn(ctx context.Context) sqlx.ExtContext {
	if tx, ok := repository.Conn(ctx).(*sqlx.Tx); ok {
		return tx
	}
	return r.db
}

// lockClause is appended to reads that must hold the row until commit.
func lockClause(ctx context.Context) string {
	if _, ok := repository.Conn(ctx).(*sqlx.Tx); ok {
		return " FOR UPDATE"
	}
	return ""
}

// translate maps driver errors onto the application error kinds.
func translate(err error, entity string, id interface{}, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(entity, id)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		code, ok := uniqueConflicts[pqErr.Constraint]
		if !ok {
			code = "DUPLICATE"
		}
		return apperrors.Conflict(code, fmt.Sprintf("%s already exists", entity)).
			WithData("constraint", pqErr.Constraint)
	}
	return fmt.Errorf("failed to %s %s: %w", op, entity, err)
}

func expectAffected(res sql.Result, entity string, id interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound(entity, id)
	}
	return nil
}
