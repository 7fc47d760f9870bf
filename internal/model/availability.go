package model

import (
	"time"

	"github.com/google/uuid"
)

// AvailabilitySlot is an advisory weekly window. Times are HH:MM in UTC.
type AvailabilitySlot struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	DayOfWeek int       `db:"day_of_week" json:"day_of_week"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SameWindow reports whether both slots describe the same doctor, day and range.
func (s *AvailabilitySlot) SameWindow(o *AvailabilitySlot) bool {
	return s.DoctorID == o.DoctorID &&
		s.DayOfWeek == o.DayOfWeek &&
		s.StartTime == o.StartTime &&
		s.EndTime == o.EndTime
}

type CreateSlotRequest struct {
	DoctorID  uuid.UUID `json:"doctor_id" binding:"required"`
	DayOfWeek *int      `json:"day_of_week" binding:"required,min=0,max=6"`
	StartTime string    `json:"start_time" binding:"required,hhmm"`
	EndTime   string    `json:"end_time" binding:"required,hhmm"`
}

type UpdateSlotRequest struct {
	DayOfWeek *int    `json:"day_of_week" binding:"omitempty,min=0,max=6"`
	StartTime *string `json:"start_time" binding:"omitempty,hhmm"`
	EndTime   *string `json:"end_time" binding:"omitempty,hhmm"`
}

// SlotCheck is the outcome of matching an instant against a doctor's windows.
type SlotCheck struct {
	Available bool       `json:"available"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	DayOfWeek int        `json:"day_of_week"`
	StartTime string     `json:"start_time"`
	EndTime   string     `json:"end_time"`
	SlotID    *uuid.UUID `json:"slot_id,omitempty"`
}
