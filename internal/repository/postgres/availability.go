package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/medbooking/internal/model"
)

const slotColumns = `id, doctor_id, day_of_week, start_time, end_time, created_at, updated_at`

func (r *availabilityRepository) Create(ctx context.Context, slot *model.AvailabilitySlot) error {
	query := `
		INSERT INTO availability_slots (
			id, doctor_id, day_of_week, start_time, end_time, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	now := time.Now().UTC()
	slot.CreatedAt, slot.UpdatedAt = now, now

	_, err := r.conn(ctx).ExecContext(ctx, query,
		slot.ID, slot.DoctorID, slot.DayOfWeek, slot.StartTime, slot.EndTime, slot.CreatedAt, slot.UpdatedAt,
	)
	return translate(err, "availability slot", slot.ID, "create")
}

func (r *availabilityRepository) get(ctx context.Context, id uuid.UUID, lock string) (*model.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1` + lock

	var slot model.AvailabilitySlot
	if err := sqlx.GetContext(ctx, r.conn(ctx), &slot, query, id); err != nil {
		return nil, translate(err, "availability slot", id, "get")
	}
	return &slot, nil
}

func (r *availabilityRepository) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	return r.get(ctx, id, "")
}

func (r *availabilityRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	return r.get(ctx, id, lockClause(ctx))
}

func (r *availabilityRepository) Update(ctx context.Context, slot *model.AvailabilitySlot) error {
	query := `
		UPDATE availability_slots
		SET day_of_week = $1, start_time = $2, end_time = $3, updated_at = $4
		WHERE id = $5
	`
	slot.UpdatedAt = time.Now().UTC()

	res, err := r.conn(ctx).ExecContext(ctx, query, slot.DayOfWeek, slot.StartTime, slot.EndTime, slot.UpdatedAt, slot.ID)
	if err != nil {
		return translate(err, "availability slot", slot.ID, "update")
	}
	return expectAffected(res, "availability slot", slot.ID)
}

func (r *availabilityRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM availability_slots WHERE id = $1`, id)
	if err != nil {
		return translate(err, "availability slot", id, "delete")
	}
	return expectAffected(res, "availability slot", id)
}

func (r *availabilityRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_time`

	var slots []*model.AvailabilitySlot
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &slots, query, doctorID); err != nil {
		return nil, fmt.Errorf("failed to list availability slots: %w", err)
	}
	return slots, nil
}

func (r *availabilityRepository) ListByDoctorDay(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]*model.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots
		WHERE doctor_id = $1 AND day_of_week = $2
		ORDER BY start_time`

	var slots []*model.AvailabilitySlot
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &slots, query, doctorID, dayOfWeek); err != nil {
		return nil, fmt.Errorf("failed to list availability slots: %w", err)
	}
	return slots, nil
}
