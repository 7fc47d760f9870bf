package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/medbooking/internal/model"
)

const reportColumns = `id, appointment_id, author_id, author_role, title, notes, report_url,
	mime_type, size_bytes, visible_to_patient, visible_to_doctor, created_at, updated_at`

func (r *reportRepository) Create(ctx context.Context, rep *model.Report) error {
	query := `
		INSERT INTO reports (
			id, appointment_id, author_id, author_role, title, notes, report_url,
			mime_type, size_bytes, visible_to_patient, visible_to_doctor, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	now := time.Now().UTC()
	rep.CreatedAt, rep.UpdatedAt = now, now

	_, err := r.conn(ctx).ExecContext(ctx, query,
		rep.ID, rep.AppointmentID, rep.AuthorID, rep.AuthorRole, rep.Title, rep.Notes, rep.ReportURL,
		rep.MimeType, rep.SizeBytes, rep.VisibleToPatient, rep.VisibleToDoctor, rep.CreatedAt, rep.UpdatedAt,
	)
	return translate(err, "report", rep.ID, "create")
}

func (r *reportRepository) Get(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	var rep model.Report
	err := sqlx.GetContext(ctx, r.conn(ctx), &rep, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	if err != nil {
		return nil, translate(err, "report", id, "get")
	}
	return &rep, nil
}

func (r *reportRepository) UpdateVisibility(ctx context.Context, rep *model.Report) error {
	query := `
		UPDATE reports
		SET visible_to_patient = $1, visible_to_doctor = $2, updated_at = $3
		WHERE id = $4
	`
	rep.UpdatedAt = time.Now().UTC()

	res, err := r.conn(ctx).ExecContext(ctx, query, rep.VisibleToPatient, rep.VisibleToDoctor, rep.UpdatedAt, rep.ID)
	if err != nil {
		return translate(err, "report", rep.ID, "update")
	}
	return expectAffected(res, "report", rep.ID)
}

func (r *reportRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return translate(err, "report", id, "delete")
	}
	return expectAffected(res, "report", id)
}

func (r *reportRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE appointment_id = $1 ORDER BY created_at DESC`

	var reports []*model.Report
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &reports, query, appointmentID); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, nil
}

func (r *reportRepository) exec(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	res, err := r.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return res.RowsAffected()
}

func (r *reportRepository) HideFromPatientByAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	return r.exec(ctx, "hide reports",
		`UPDATE reports SET visible_to_patient = FALSE, updated_at = NOW()
		WHERE appointment_id = $1 AND visible_to_patient`, appointmentID)
}

func (r *reportRepository) HideFromPatientByAuthor(ctx context.Context, authorID uuid.UUID) (int64, error) {
	return r.exec(ctx, "hide reports",
		`UPDATE reports SET visible_to_patient = FALSE, updated_at = NOW()
		WHERE author_id = $1 AND visible_to_patient`, authorID)
}

func (r *reportRepository) DeleteByAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	return r.exec(ctx, "delete reports", `DELETE FROM reports WHERE appointment_id = $1`, appointmentID)
}
