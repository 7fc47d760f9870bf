package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

type ReportRepository struct {
	s *Store
}

func NewReportRepository(s *Store) *ReportRepository {
	return &ReportRepository{s: s}
}

func (r *ReportRepository) Create(ctx context.Context, rep *model.Report) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	now := time.Now().UTC()
	rep.CreatedAt, rep.UpdatedAt = now, now
	trackKey(ctx, r.s.reports, rep.ID)
	r.s.reports[rep.ID] = *rep
	return nil
}

func (r *ReportRepository) Get(_ context.Context, id uuid.UUID) (*model.Report, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rep, ok := r.s.reports[id]
	if !ok {
		return nil, apperrors.NotFound("report", id)
	}
	return &rep, nil
}

func (r *ReportRepository) UpdateVisibility(ctx context.Context, rep *model.Report) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.reports[rep.ID]
	if !ok {
		return apperrors.NotFound("report", rep.ID)
	}
	stored.VisibleToPatient = rep.VisibleToPatient
	stored.VisibleToDoctor = rep.VisibleToDoctor
	stored.UpdatedAt = time.Now().UTC()
	trackKey(ctx, r.s.reports, rep.ID)
	r.s.reports[rep.ID] = stored
	rep.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *ReportRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.reports[id]; !ok {
		return apperrors.NotFound("report", id)
	}
	trackKey(ctx, r.s.reports, id)
	delete(r.s.reports, id)
	return nil
}

func (r *ReportRepository) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*model.Report, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*model.Report
	for _, rep := range r.s.reports {
		if rep.AppointmentID == appointmentID {
			rep := rep
			out = append(out, &rep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *ReportRepository) hideFromPatient(ctx context.Context, keep func(model.Report) bool) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	now := time.Now().UTC()
	for id, rep := range r.s.reports {
		if keep(rep) && rep.VisibleToPatient {
			rep.VisibleToPatient = false
			rep.UpdatedAt = now
			trackKey(ctx, r.s.reports, id)
			r.s.reports[id] = rep
			n++
		}
	}
	return n
}

func (r *ReportRepository) HideFromPatientByAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	return r.hideFromPatient(ctx, func(rep model.Report) bool { return rep.AppointmentID == appointmentID }), nil
}

func (r *ReportRepository) HideFromPatientByAuthor(ctx context.Context, authorID uuid.UUID) (int64, error) {
	return r.hideFromPatient(ctx, func(rep model.Report) bool { return rep.AuthorID == authorID }), nil
}

func (r *ReportRepository) DeleteByAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, rep := range r.s.reports {
		if rep.AppointmentID == appointmentID {
			trackKey(ctx, r.s.reports, id)
			delete(r.s.reports, id)
			n++
		}
	}
	return n, nil
}
