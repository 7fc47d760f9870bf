package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/medbooking/internal/model"
)

const paymentColumns = `id, user_id, appointment_id, amount, currency, method, status,
	provider, provider_payment_id, metadata, paid_at, created_at, updated_at`

func (r *paymentRepository) Create(ctx context.Context, p *model.Payment) error {
	query := `
		INSERT INTO payments (
			id, user_id, appointment_id, amount, currency, method, status,
			provider, provider_payment_id, metadata, paid_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := r.conn(ctx).ExecContext(ctx, query,
		p.ID, p.UserID, p.AppointmentID, p.Amount, p.Currency, p.Method, p.Status,
		p.Provider, p.ProviderPaymentID, p.Metadata, p.PaidAt, p.CreatedAt, p.UpdatedAt,
	)
	return translate(err, "payment", p.ID, "create")
}

func (r *paymentRepository) get(ctx context.Context, id uuid.UUID, lock string) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1` + lock

	var p model.Payment
	if err := sqlx.GetContext(ctx, r.conn(ctx), &p, query, id); err != nil {
		return nil, translate(err, "payment", id, "get")
	}
	return &p, nil
}

func (r *paymentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return r.get(ctx, id, "")
}

func (r *paymentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return r.get(ctx, id, lockClause(ctx))
}

func (r *paymentRepository) Update(ctx context.Context, p *model.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, provider = $2, provider_payment_id = $3, metadata = $4,
			paid_at = $5, updated_at = $6
		WHERE id = $7
	`
	p.UpdatedAt = time.Now().UTC()

	res, err := r.conn(ctx).ExecContext(ctx, query,
		p.Status, p.Provider, p.ProviderPaymentID, p.Metadata, p.PaidAt, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return translate(err, "payment", p.ID, "update")
	}
	return expectAffected(res, "payment", p.ID)
}

func (r *paymentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return translate(err, "payment", id, "delete")
	}
	return expectAffected(res, "payment", id)
}

func paymentWhere(ds *goqu.SelectDataset, f model.PaymentFilter) *goqu.SelectDataset {
	if f.UserID != nil {
		ds = ds.Where(goqu.C("user_id").Eq(*f.UserID))
	}
	if f.AppointmentID != nil {
		ds = ds.Where(goqu.C("appointment_id").Eq(*f.AppointmentID))
	}
	if f.Status != nil {
		ds = ds.Where(goqu.C("status").Eq(string(*f.Status)))
	}
	return ds
}

func (r *paymentRepository) List(ctx context.Context, f model.PaymentFilter) ([]*model.Payment, error) {
	ds := dialect.From("payments").Prepared(true).Select(
		"id", "user_id", "appointment_id", "amount", "currency", "method", "status",
		"provider", "provider_payment_id", "metadata", "paid_at", "created_at", "updated_at",
	)
	ds = paymentWhere(ds, f).Order(goqu.C("created_at").Desc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build payment query: %w", err)
	}

	var payments []*model.Payment
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &payments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

func (r *paymentRepository) HasPending(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	// FOR UPDATE only locks rows that already exist. Two creators that both
	// see none are settled by payments_one_pending_idx on insert.
	query := `SELECT id FROM payments WHERE appointment_id = $1 AND status = 'pending'` + lockClause(ctx)

	var ids []uuid.UUID
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &ids, query, appointmentID); err != nil {
		return false, fmt.Errorf("failed to check pending payments: %w", err)
	}
	return len(ids) > 0, nil
}

func (r *paymentRepository) FindByProviderID(ctx context.Context, provider, providerPaymentID string) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider = $1 AND provider_payment_id = $2`

	var p model.Payment
	if err := sqlx.GetContext(ctx, r.conn(ctx), &p, query, provider, providerPaymentID); err != nil {
		return nil, translate(err, "payment", providerPaymentID, "get")
	}
	return &p, nil
}

func (r *paymentRepository) FailPending(ctx context.Context, f model.PaymentFilter) ([]*model.Payment, error) {
	ds := dialect.Update("payments").Prepared(true).
		Set(goqu.Record{"status": string(model.PaymentStatusFailed), "updated_at": time.Now().UTC()}).
		Where(goqu.C("status").Eq(string(model.PaymentStatusPending)))
	if f.UserID != nil {
		ds = ds.Where(goqu.C("user_id").Eq(*f.UserID))
	}
	if f.AppointmentID != nil {
		ds = ds.Where(goqu.C("appointment_id").Eq(*f.AppointmentID))
	}
	ds = ds.Returning(
		"id", "user_id", "appointment_id", "amount", "currency", "method", "status",
		"provider", "provider_payment_id", "metadata", "paid_at", "created_at", "updated_at",
	)

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build payment update: %w", err)
	}

	var changed []*model.Payment
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &changed, query, args...); err != nil {
		return nil, fmt.Errorf("failed to fail pending payments: %w", err)
	}
	return changed, nil
}
