// Package appointment owns the appointment lifecycle: booking, status
// transitions, rescheduling and the reactions to slot, payment and user
// events.
package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/repository"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/event"
	"github.com/jwalitptl/medbooking/pkg/lock"
	"github.com/jwalitptl/medbooking/pkg/logger"
	"github.com/jwalitptl/medbooking/pkg/metrics"
)

const entityType = "appointment"

const (
	actionCreate     = "appointments.appointment.create"
	actionSetStatus  = "appointments.appointment.setStatus"
	actionReschedule = "appointments.appointment.reschedule"
	actionRemove     = "appointments.appointment.hardRemove"
	actionList       = "appointments.appointment.list"
)

// Reasons recorded on system driven transitions.
const (
	ReasonSlotDeleted   = "slot_deleted"
	ReasonSlotUpdated   = "slot_updated"
	ReasonPaymentFailed = "payment_failed"
	ReasonUserDeleted   = "user_deleted"
)

// SlotChecker answers whether a doctor advertises the instant.
type SlotChecker interface {
	CheckSlot(ctx context.Context, doctorID uuid.UUID, at time.Time) (*model.SlotCheck, error)
}

type Option func(*Service)

// WithClock replaces time.Now, used for the "strictly future" checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocker guards each (doctor, instant) pair while a booking is written.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

type Service struct {
	tx      repository.Transactor
	repo    repository.AppointmentRepository
	slots   SlotChecker
	bus     event.Bus
	policy  *policy.Policy
	log     *logger.Logger
	locker  lock.Locker
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(
	tx repository.Transactor,
	repo repository.AppointmentRepository,
	slots SlotChecker,
	bus event.Bus,
	pol *policy.Policy,
	log *logger.Logger,
	opts ...Option,
) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Service{
		tx:     tx,
		repo:   repo,
		slots:  slots,
		bus:    bus,
		policy: pol,
		log:    log.With("service", "appointment"),
		locker: lock.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create books a visit in status requested.
func (s *Service) Create(ctx context.Context, p policy.Principal, req model.CreateAppointmentRequest) (*model.Appointment, error) {
	appt, err := s.create(ctx, p, req)
	if err != nil {
		s.fail(ctx, p, actionCreate, nil, err, map[string]interface{}{
			"patient_id":   req.PatientID.String(),
			"doctor_id":    req.DoctorID.String(),
			"scheduled_at": event.FormatTime(req.ScheduledAt),
		})
		return nil, err
	}

	md := appointmentMetadata(appt)
	changed := appointmentMetadata(appt)
	changed["from"] = nil
	changed["to"] = string(appt.Status)

	repository.AfterCommit(ctx, func(ctx context.Context) {
		event.Emit(ctx, s.bus, s.log,
			event.New(event.AppointmentCreated, p.Actor(), entityType, appt.ID, event.StatusOK, md),
			event.New(event.AppointmentStatusChanged, p.Actor(), entityType, appt.ID, event.StatusOK, changed),
			event.Record(p.Actor(), actionCreate, entityType, appt.ID, event.StatusOK, md),
		)
	})
	return appt, nil
}

func (s *Service) create(ctx context.Context, p policy.Principal, req model.CreateAppointmentRequest) (*model.Appointment, error) {
	if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil {
		return nil, apperrors.Invalid("patient_id and doctor_id are required")
	}
	if err := policy.Require(s.policy.CanBook(p, req.PatientID, req.DoctorID), "cannot book on behalf of another user"); err != nil {
		return nil, err
	}
	at := req.ScheduledAt.UTC()
	if err := s.ensureFuture(at, "scheduled_at"); err != nil {
		return nil, err
	}

	appt := &model.Appointment{
		PatientID:   req.PatientID,
		DoctorID:    req.DoctorID,
		ScheduledAt: at,
		Status:      model.AppointmentStatusRequested,
		Notes:       req.Notes,
	}
	err := s.withSlotLock(ctx, appt.DoctorID, at, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.ensureBookable(ctx, appt.DoctorID, at, nil); err != nil {
				return err
			}
			return s.repo.Create(ctx, appt)
		})
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (s *Service) Get(ctx context.Context, p policy.Principal, id uuid.UUID) (*model.Appointment, error) {
	appt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Require(s.policy.CanView(p, appt.PatientID, appt.DoctorID), "not a participant of this appointment"); err != nil {
		return nil, err
	}
	return appt, nil
}

// SetStatus moves the appointment along the lifecycle graph. Setting the
// current status again returns the record untouched and emits nothing.
func (s *Service) SetStatus(ctx context.Context, p policy.Principal, id uuid.UUID, to model.AppointmentStatus, reason string) (*model.Appointment, error) {
	appt, _, err := s.transition(ctx, p, id, to, reason, nil)
	if err != nil {
		s.fail(ctx, p, actionSetStatus, id, err, map[string]interface{}{"to": string(to)})
		return nil, err
	}
	return appt, nil
}

func (s *Service) Confirm(ctx context.Context, p policy.Principal, id uuid.UUID) (*model.Appointment, error) {
	return s.SetStatus(ctx, p, id, model.AppointmentStatusConfirmed, "")
}

func (s *Service) Complete(ctx context.Context, p policy.Principal, id uuid.UUID) (*model.Appointment, error) {
	return s.SetStatus(ctx, p, id, model.AppointmentStatusCompleted, "")
}

func (s *Service) Cancel(ctx context.Context, p policy.Principal, id uuid.UUID, reason string) (*model.Appointment, error) {
	return s.SetStatus(ctx, p, id, model.AppointmentStatusCancelled, reason)
}

// transition applies one status change. When onlyFrom is set the change is
// skipped unless the stored status matches it. changed is false for
// no-ops.
func (s *Service) transition(
	ctx context.Context,
	p policy.Principal,
	id uuid.UUID,
	to model.AppointmentStatus,
	reason string,
	onlyFrom *model.AppointmentStatus,
) (*model.Appointment, bool, error) {
	if !to.Valid() {
		return nil, false, apperrors.Invalid(fmt.Sprintf("unknown status %q", to))
	}

	var (
		appt *model.Appointment
		from model.AppointmentStatus
		done bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		appt, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeTransition(p, appt, to); err != nil {
			return err
		}
		if appt.Status == to {
			return nil
		}
		if onlyFrom != nil && appt.Status != *onlyFrom {
			return nil
		}
		if !appt.Status.CanTransitionTo(to) {
			return apperrors.Conflict(apperrors.CodeInvalidTransition,
				fmt.Sprintf("cannot move appointment from %s to %s", appt.Status, to)).
				WithData("from", string(appt.Status)).
				WithData("to", string(to))
		}

		if to == model.AppointmentStatusConfirmed {
			if err := s.ensureFuture(appt.ScheduledAt, "scheduled_at"); err != nil {
				return err
			}
			if err := s.ensureBookable(ctx, appt.DoctorID, appt.ScheduledAt, &appt.ID); err != nil {
				return err
			}
		}

		from = appt.Status
		appt.Status = to
		if err := s.repo.Update(ctx, appt); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !done {
		return appt, false, nil
	}

	if s.metrics != nil {
		s.metrics.AppointmentTransitions.WithLabelValues(string(from), string(to)).Inc()
	}

	md := appointmentMetadata(appt)
	md["from"] = string(from)
	md["to"] = string(to)
	if reason != "" {
		md["reason"] = reason
	}
	evts := []event.Event{
		event.New(event.AppointmentStatusChanged, p.Actor(), entityType, appt.ID, event.StatusOK, md),
	}
	if name := statusEvent(to); name != "" {
		evts = append(evts, event.New(name, p.Actor(), entityType, appt.ID, event.StatusOK, md))
	}
	evts = append(evts, event.Record(p.Actor(), actionSetStatus, entityType, appt.ID, event.StatusOK, md))

	repository.AfterCommit(ctx, func(ctx context.Context) {
		event.Emit(ctx, s.bus, s.log, evts...)
	})
	return appt, true, nil
}

func (s *Service) authorizeTransition(p policy.Principal, appt *model.Appointment, to model.AppointmentStatus) error {
	var ok bool
	switch to {
	case model.AppointmentStatusConfirmed, model.AppointmentStatusCompleted:
		ok = s.policy.CanConfirm(p, appt.DoctorID)
	case model.AppointmentStatusCancelled:
		ok = s.policy.CanCancel(p, appt.PatientID, appt.DoctorID)
	default:
		ok = s.policy.CanView(p, appt.PatientID, appt.DoctorID)
	}
	return policy.Require(ok, fmt.Sprintf("not allowed to set status %s", to))
}

// Reschedule moves an active appointment to a new future instant, keeping
// its identity and status.
func (s *Service) Reschedule(ctx context.Context, p policy.Principal, id uuid.UUID, at time.Time, reason string) (*model.Appointment, error) {
	appt, _, err := s.reschedule(ctx, p, id, at, reason)
	if err != nil {
		s.fail(ctx, p, actionReschedule, id, err, map[string]interface{}{"to": event.FormatTime(at)})
		return nil, err
	}
	return appt, nil
}

func (s *Service) reschedule(ctx context.Context, p policy.Principal, id uuid.UUID, at time.Time, reason string) (*model.Appointment, bool, error) {
	at = at.UTC()
	if err := s.ensureFuture(at, "scheduled_at"); err != nil {
		return nil, false, err
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	var (
		appt *model.Appointment
		prev time.Time
		done bool
	)
	err = s.withSlotLock(ctx, current.DoctorID, at, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			appt, err = s.repo.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := policy.Require(s.policy.CanCancel(p, appt.PatientID, appt.DoctorID), "not allowed to reschedule this appointment"); err != nil {
				return err
			}
			if appt.Status.Terminal() {
				return apperrors.Conflict(apperrors.CodeInvalidTransition,
					fmt.Sprintf("cannot reschedule a %s appointment", appt.Status)).
					WithData("status", string(appt.Status))
			}
			if appt.ScheduledAt.Equal(at) {
				return nil
			}
			if err := s.ensureBookable(ctx, appt.DoctorID, at, &appt.ID); err != nil {
				return err
			}

			prev = appt.ScheduledAt
			appt.ScheduledAt = at
			if err := s.repo.Update(ctx, appt); err != nil {
				return err
			}
			done = true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	if !done {
		return appt, false, nil
	}

	md := map[string]interface{}{
		"from":       event.FormatTime(prev),
		"to":         event.FormatTime(appt.ScheduledAt),
		"patient_id": appt.PatientID.String(),
		"doctor_id":  appt.DoctorID.String(),
		"status":     string(appt.Status),
	}
	if reason != "" {
		md["reason"] = reason
	}
	repository.AfterCommit(ctx, func(ctx context.Context) {
		event.Emit(ctx, s.bus, s.log,
			event.New(event.AppointmentRescheduled, p.Actor(), entityType, appt.ID, event.StatusOK, md),
			event.Record(p.Actor(), actionReschedule, entityType, appt.ID, event.StatusOK, md),
		)
	})
	return appt, true, nil
}

// Remove hard deletes an appointment. Admin only.
func (s *Service) Remove(ctx context.Context, p policy.Principal, id uuid.UUID) error {
	var removed *model.Appointment
	err := policy.RequireAdmin(p)
	if err == nil {
		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			appt, err := s.repo.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := s.repo.Delete(ctx, id); err != nil {
				return err
			}
			removed = appt
			return nil
		})
	}
	if err != nil {
		s.fail(ctx, p, actionRemove, id, err, nil)
		return err
	}

	md := appointmentMetadata(removed)
	md["status"] = string(removed.Status)
	repository.AfterCommit(ctx, func(ctx context.Context) {
		event.Emit(ctx, s.bus, s.log,
			event.New(event.AppointmentDeleted, p.Actor(), entityType, removed.ID, event.StatusOK, md),
			event.Record(p.Actor(), actionRemove, entityType, removed.ID, event.StatusOK, md),
		)
	})
	return nil
}

// ListUpcoming returns the user's active appointments from now on, soonest first.
func (s *Service) ListUpcoming(ctx context.Context, p policy.Principal, userID uuid.UUID, role policy.Role) ([]*model.Appointment, error) {
	f, err := s.userFilter(p, userID, role)
	if err != nil {
		s.fail(ctx, p, actionList, nil, err, map[string]interface{}{"user_id": userID.String(), "role": string(role)})
		return nil, err
	}
	now := s.now().UTC()
	f.From = &now
	f.Statuses = model.ActiveAppointmentStatuses
	return s.list(ctx, f)
}

// ListPast returns the user's appointments before now, latest first.
func (s *Service) ListPast(ctx context.Context, p policy.Principal, userID uuid.UUID, role policy.Role) ([]*model.Appointment, error) {
	f, err := s.userFilter(p, userID, role)
	if err != nil {
		s.fail(ctx, p, actionList, nil, err, map[string]interface{}{"user_id": userID.String(), "role": string(role)})
		return nil, err
	}
	now := s.now().UTC()
	f.Before = &now
	f.Descending = true
	return s.list(ctx, f)
}

// ListByDoctor returns every appointment of the doctor, optionally narrowed by status.
func (s *Service) ListByDoctor(ctx context.Context, p policy.Principal, doctorID uuid.UUID, statuses []model.AppointmentStatus) ([]*model.Appointment, error) {
	if err := policy.Require(s.policy.CanActAs(p, doctorID), "cannot list another doctor's appointments"); err != nil {
		return nil, err
	}
	return s.list(ctx, model.AppointmentFilter{DoctorID: &doctorID, Statuses: statuses})
}

func (s *Service) userFilter(p policy.Principal, userID uuid.UUID, role policy.Role) (model.AppointmentFilter, error) {
	if userID == uuid.Nil {
		userID = p.ID
	}
	if role == "" {
		role = p.Role
	}
	if err := policy.Require(s.policy.CanActAs(p, userID), "cannot list another user's appointments"); err != nil {
		return model.AppointmentFilter{}, err
	}
	switch role {
	case policy.RolePatient:
		return model.AppointmentFilter{PatientID: &userID}, nil
	case policy.RoleDoctor:
		return model.AppointmentFilter{DoctorID: &userID}, nil
	}
	return model.AppointmentFilter{}, apperrors.Invalid("role must be patient or doctor").WithData("field", "role")
}

func (s *Service) list(ctx context.Context, f model.AppointmentFilter) ([]*model.Appointment, error) {
	out, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, apperrors.Infrastructure(err, "failed to list appointments")
	}
	return out, nil
}

func (s *Service) ensureFuture(at time.Time, field string) error {
	if !at.After(s.now()) {
		return apperrors.Validation(apperrors.CodeNotInFuture, field+" must be in the future").
			WithData("field", field)
	}
	return nil
}

// ensureBookable runs both halves of the conflict check: the instant must
// fall inside an advertised window and no other active appointment may
// hold the same (doctor, instant) pair.
func (s *Service) ensureBookable(ctx context.Context, doctorID uuid.UUID, at time.Time, excludeID *uuid.UUID) error {
	check, err := s.slots.CheckSlot(ctx, doctorID, at)
	if err != nil {
		return err
	}
	if !check.Available {
		return apperrors.Validation(apperrors.CodeNoAvailability, "doctor has no availability at the requested time").
			WithData("day_of_week", check.DayOfWeek).
			WithData("start_time", check.StartTime).
			WithData("end_time", check.EndTime)
	}

	taken, err := s.repo.ExistsActiveAt(ctx, doctorID, at, excludeID)
	if err != nil {
		return apperrors.Infrastructure(err, "failed to check conflicts")
	}
	if taken {
		return apperrors.Conflict(apperrors.CodeOverbooking, "doctor already booked at this time").
			WithData("doctor_id", doctorID.String()).
			WithData("scheduled_at", event.FormatTime(at))
	}
	return nil
}

func (s *Service) withSlotLock(ctx context.Context, doctorID uuid.UUID, at time.Time, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("appointment:%s:%d", doctorID, at.Unix())
	err := s.locker.WithLock(ctx, key, fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return apperrors.Conflict(apperrors.CodeSlotBusy, "another booking for this time is in progress")
	}
	return err
}

func (s *Service) fail(ctx context.Context, p policy.Principal, action string, entityID interface{}, err error, extra map[string]interface{}) {
	event.Emit(ctx, s.bus, s.log, event.Failure(p.Actor(), action, entityType, entityID, err, extra))
}

func statusEvent(to model.AppointmentStatus) string {
	switch to {
	case model.AppointmentStatusConfirmed:
		return event.AppointmentConfirmed
	case model.AppointmentStatusCompleted:
		return event.AppointmentCompleted
	case model.AppointmentStatusCancelled:
		return event.AppointmentCancelled
	}
	return ""
}

func appointmentMetadata(a *model.Appointment) map[string]interface{} {
	return map[string]interface{}{
		"patient_id":   a.PatientID.String(),
		"doctor_id":    a.DoctorID.String(),
		"scheduled_at": event.FormatTime(a.ScheduledAt),
	}
}
