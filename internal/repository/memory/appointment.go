package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

type AppointmentRepository struct {
	s *Store
}

func NewAppointmentRepository(s *Store) *AppointmentRepository {
	return &AppointmentRepository{s: s}
}

// activeClash emulates the partial unique index on (doctor_id, scheduled_at).
func (r *AppointmentRepository) activeClash(a *model.Appointment) bool {
	if !a.Status.Active() {
		return false
	}
	for id, other := range r.s.appointments {
		if id != a.ID && other.DoctorID == a.DoctorID && other.Status.Active() && other.ScheduledAt.Equal(a.ScheduledAt) {
			return true
		}
	}
	return false
}

func (r *AppointmentRepository) Create(ctx context.Context, a *model.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if r.activeClash(a) {
		return apperrors.Conflict(apperrors.CodeOverbooking, "doctor already booked at this time")
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	trackKey(ctx, r.s.appointments, a.ID)
	r.s.appointments[a.ID] = *a
	return nil
}

func (r *AppointmentRepository) Get(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.appointments[id]
	if !ok {
		return nil, apperrors.NotFound("appointment", id)
	}
	return &a, nil
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return r.Get(ctx, id)
}

func (r *AppointmentRepository) Update(ctx context.Context, a *model.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.appointments[a.ID]; !ok {
		return apperrors.NotFound("appointment", a.ID)
	}
	if r.activeClash(a) {
		return apperrors.Conflict(apperrors.CodeOverbooking, "doctor already booked at this time")
	}
	a.UpdatedAt = time.Now().UTC()
	trackKey(ctx, r.s.appointments, a.ID)
	r.s.appointments[a.ID] = *a
	return nil
}

func (r *AppointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.appointments[id]; !ok {
		return apperrors.NotFound("appointment", id)
	}
	trackKey(ctx, r.s.appointments, id)
	delete(r.s.appointments, id)
	return nil
}

func (r *AppointmentRepository) List(_ context.Context, f model.AppointmentFilter) ([]*model.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*model.Appointment
	for _, a := range r.s.appointments {
		if !matchAppointment(a, f) {
			continue
		}
		a := a
		out = append(out, &a)
	}

	sort.Slice(out, func(i, j int) bool {
		if f.Descending {
			return out[i].ScheduledAt.After(out[j].ScheduledAt)
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchAppointment(a model.Appointment, f model.AppointmentFilter) bool {
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
		return false
	}
	if f.ParticipantID != nil && a.PatientID != *f.ParticipantID && a.DoctorID != *f.ParticipantID {
		return false
	}
	if f.ScheduledAt != nil && !a.ScheduledAt.Equal(*f.ScheduledAt) {
		return false
	}
	if f.From != nil && a.ScheduledAt.Before(*f.From) {
		return false
	}
	if f.Before != nil && !a.ScheduledAt.Before(*f.Before) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (r *AppointmentRepository) ExistsActiveAt(_ context.Context, doctorID uuid.UUID, at time.Time, excludeID *uuid.UUID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for id, a := range r.s.appointments {
		if excludeID != nil && id == *excludeID {
			continue
		}
		if a.DoctorID == doctorID && a.Status.Active() && a.ScheduledAt.Equal(at) {
			return true, nil
		}
	}
	return false, nil
}
