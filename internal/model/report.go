package model

import (
	"time"

	"github.com/google/uuid"
)

type Report struct {
	ID               uuid.UUID `db:"id" json:"id"`
	AppointmentID    uuid.UUID `db:"appointment_id" json:"appointment_id"`
	AuthorID         uuid.UUID `db:"author_id" json:"author_id"`
	AuthorRole       string    `db:"author_role" json:"author_role"`
	Title            string    `db:"title" json:"title,omitempty"`
	Notes            string    `db:"notes" json:"notes,omitempty"`
	ReportURL        string    `db:"report_url" json:"report_url"`
	MimeType         string    `db:"mime_type" json:"mime_type,omitempty"`
	SizeBytes        int64     `db:"size_bytes" json:"size_bytes,omitempty"`
	VisibleToPatient bool      `db:"visible_to_patient" json:"visible_to_patient"`
	VisibleToDoctor  bool      `db:"visible_to_doctor" json:"visible_to_doctor"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

type CreateReportRequest struct {
	AppointmentID    uuid.UUID `json:"appointment_id" binding:"required"`
	Title            string    `json:"title" binding:"max=255"`
	Notes            string    `json:"notes" binding:"max=10000"`
	ReportURL        string    `json:"report_url" binding:"required,url"`
	MimeType         string    `json:"mime_type" binding:"max=100"`
	SizeBytes        int64     `json:"size_bytes" binding:"min=0"`
	VisibleToPatient *bool     `json:"visible_to_patient"`
	VisibleToDoctor  *bool     `json:"visible_to_doctor"`
}

type UpdateVisibilityRequest struct {
	VisibleToPatient *bool `json:"visible_to_patient"`
	VisibleToDoctor  *bool `json:"visible_to_doctor"`
}
