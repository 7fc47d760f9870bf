package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusRequested AppointmentStatus = "requested"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
)

// AppointmentDuration is fixed for every booking.
const AppointmentDuration = 30 * time.Minute

var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentStatusRequested: {AppointmentStatusConfirmed, AppointmentStatusCancelled},
	AppointmentStatusConfirmed: {AppointmentStatusCompleted, AppointmentStatusCancelled},
}

// ActiveAppointmentStatuses hold the (doctor, instant) pair exclusively.
var ActiveAppointmentStatuses = []AppointmentStatus{AppointmentStatusRequested, AppointmentStatusConfirmed}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusRequested, AppointmentStatusConfirmed, AppointmentStatusCancelled, AppointmentStatusCompleted:
		return true
	}
	return false
}

func (s AppointmentStatus) Active() bool {
	return s == AppointmentStatusRequested || s == AppointmentStatusConfirmed
}

func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentStatusCancelled || s == AppointmentStatusCompleted
}

func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	for _, allowed := range appointmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	PatientID   uuid.UUID         `db:"patient_id" json:"patient_id"`
	DoctorID    uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	ScheduledAt time.Time         `db:"scheduled_at" json:"scheduled_at"`
	Status      AppointmentStatus `db:"status" json:"status"`
	Notes       string            `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// EndsAt is the end of the fixed-length visit.
func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(AppointmentDuration)
}

type CreateAppointmentRequest struct {
	PatientID   uuid.UUID `json:"patient_id" binding:"required"`
	DoctorID    uuid.UUID `json:"doctor_id" binding:"required"`
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
	Notes       string    `json:"notes" binding:"max=1000"`
}

type SetAppointmentStatusRequest struct {
	Status AppointmentStatus `json:"status" binding:"required,oneof=requested confirmed cancelled completed"`
	Reason string            `json:"reason" binding:"max=255"`
}

type RescheduleAppointmentRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
	Reason      string    `json:"reason" binding:"max=255"`
}

// AppointmentFilter narrows appointment queries. Zero values are ignored.
type AppointmentFilter struct {
	PatientID     *uuid.UUID
	DoctorID      *uuid.UUID
	ParticipantID *uuid.UUID
	Statuses      []AppointmentStatus
	ScheduledAt   *time.Time
	From          *time.Time
	Before        *time.Time
	Descending    bool
	Limit         int
}
