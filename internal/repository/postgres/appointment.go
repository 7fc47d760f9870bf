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

const appointmentColumns = `id, patient_id, doctor_id, scheduled_at, status, notes, created_at, updated_at`

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, patient_id, doctor_id, scheduled_at, status, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	now := time.Now().UTC()
	appointment.CreatedAt = now
	appointment.UpdatedAt = now

	_, err := r.conn(ctx).ExecContext(ctx, query,
		appointment.ID,
		appointment.PatientID,
		appointment.DoctorID,
		appointment.ScheduledAt.UTC(),
		appointment.Status,
		appointment.Notes,
		appointment.CreatedAt,
		appointment.UpdatedAt,
	)
	return translate(err, "appointment", appointment.ID, "create")
}

func (r *appointmentRepository) get(ctx context.Context, id uuid.UUID, lock string) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1` + lock

	var appointment model.Appointment
	if err := sqlx.GetContext(ctx, r.conn(ctx), &appointment, query, id); err != nil {
		return nil, translate(err, "appointment", id, "get")
	}
	return &appointment, nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return r.get(ctx, id, "")
}

func (r *appointmentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return r.get(ctx, id, lockClause(ctx))
}

func (r *appointmentRepository) Update(ctx context.Context, appointment *model.Appointment) error {
	query := `
		UPDATE appointments
		SET scheduled_at = $1, status = $2, notes = $3, updated_at = $4
		WHERE id = $5
	`
	appointment.UpdatedAt = time.Now().UTC()

	res, err := r.conn(ctx).ExecContext(ctx, query,
		appointment.ScheduledAt.UTC(),
		appointment.Status,
		appointment.Notes,
		appointment.UpdatedAt,
		appointment.ID,
	)
	if err != nil {
		return translate(err, "appointment", appointment.ID, "update")
	}
	return expectAffected(res, "appointment", appointment.ID)
}

func (r *appointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return translate(err, "appointment", id, "delete")
	}
	return expectAffected(res, "appointment", id)
}

func (r *appointmentRepository) List(ctx context.Context, f model.AppointmentFilter) ([]*model.Appointment, error) {
	ds := dialect.From("appointments").Prepared(true).Select(
		"id", "patient_id", "doctor_id", "scheduled_at", "status", "notes", "created_at", "updated_at",
	)
	if f.PatientID != nil {
		ds = ds.Where(goqu.C("patient_id").Eq(*f.PatientID))
	}
	if f.DoctorID != nil {
		ds = ds.Where(goqu.C("doctor_id").Eq(*f.DoctorID))
	}
	if f.ParticipantID != nil {
		ds = ds.Where(goqu.Or(
			goqu.C("patient_id").Eq(*f.ParticipantID),
			goqu.C("doctor_id").Eq(*f.ParticipantID),
		))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		ds = ds.Where(goqu.C("status").In(statuses))
	}
	if f.ScheduledAt != nil {
		ds = ds.Where(goqu.C("scheduled_at").Eq(f.ScheduledAt.UTC()))
	}
	if f.From != nil {
		ds = ds.Where(goqu.C("scheduled_at").Gte(f.From.UTC()))
	}
	if f.Before != nil {
		ds = ds.Where(goqu.C("scheduled_at").Lt(f.Before.UTC()))
	}
	if f.Descending {
		ds = ds.Order(goqu.C("scheduled_at").Desc())
	} else {
		ds = ds.Order(goqu.C("scheduled_at").Asc())
	}
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build appointment query: %w", err)
	}

	var appointments []*model.Appointment
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &appointments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) ExistsActiveAt(ctx context.Context, doctorID uuid.UUID, at time.Time, excludeID *uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1
			AND scheduled_at = $2
			AND status IN ('requested', 'confirmed')
			AND ($3::uuid IS NULL OR id <> $3)
		)
	`
	var exclude interface{}
	if excludeID != nil {
		exclude = *excludeID
	}

	var exists bool
	if err := sqlx.GetContext(ctx, r.conn(ctx), &exists, query, doctorID, at.UTC(), exclude); err != nil {
		return false, fmt.Errorf("failed to check appointment conflicts: %w", err)
	}
	return exists, nil
}
