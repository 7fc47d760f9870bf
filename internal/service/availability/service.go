// Package availability owns the doctors' weekly windows and answers
// whether a concrete instant can be booked.
package availability

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/repository"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/event"
	"github.com/jwalitptl/medbooking/pkg/logger"
)

const entityType = "availability_slot"

const (
	actionCreate = "availability.slot.create"
	actionUpdate = "availability.slot.update"
	actionRemove = "availability.slot.remove"
)

type Service struct {
	tx     repository.Transactor
	repo   repository.AvailabilityRepository
	bus    event.Bus
	policy *policy.Policy
	log    *logger.Logger
}

func NewService(tx repository.Transactor, repo repository.AvailabilityRepository, bus event.Bus, pol *policy.Policy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		tx:     tx,
		repo:   repo,
		bus:    bus,
		policy: pol,
		log:    log.With("service", "availability"),
	}
}

// CheckSlot reports whether a visit of the fixed duration starting at the
// instant fits inside one of the doctor's windows. Nothing is persisted.
func (s *Service) CheckSlot(ctx context.Context, doctorID uuid.UUID, at time.Time) (*model.SlotCheck, error) {
	day, start, end := Window(at, model.AppointmentDuration)
	check := &model.SlotCheck{DoctorID: doctorID, DayOfWeek: day, StartTime: start, EndTime: end}

	slots, err := s.repo.ListByDoctorDay(ctx, doctorID, day)
	if err != nil {
		return nil, apperrors.Infrastructure(err, "failed to load availability")
	}
	for _, slot := range slots {
		if slot.StartTime <= start && slot.EndTime >= end {
			id := slot.ID
			check.Available = true
			check.SlotID = &id
			break
		}
	}
	return check, nil
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.AvailabilitySlot, error) {
	slots, err := s.repo.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, apperrors.Infrastructure(err, "failed to list availability")
	}
	return slots, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	return s.repo.Get(ctx, id)
}

// CreateSlot stores a new window. Re-submitting an identical window
// returns the stored one without emitting anything.
func (s *Service) CreateSlot(ctx context.Context, p policy.Principal, req model.CreateSlotRequest) (*model.AvailabilitySlot, error) {
	slot, created, err := s.createSlot(ctx, p, req)
	if err != nil {
		s.fail(ctx, p, actionCreate, nil, err, map[string]interface{}{"doctor_id": req.DoctorID.String()})
		return nil, err
	}
	if created {
		md := slotMetadata(slot)
		repository.AfterCommit(ctx, func(ctx context.Context) {
			event.Emit(ctx, s.bus, s.log,
				event.New(event.SlotCreated, p.Actor(), entityType, slot.ID, event.StatusOK, md),
				event.Record(p.Actor(), actionCreate, entityType, slot.ID, event.StatusOK, md),
			)
		})
	}
	return slot, nil
}

func (s *Service) createSlot(ctx context.Context, p policy.Principal, req model.CreateSlotRequest) (*model.AvailabilitySlot, bool, error) {
	if err := policy.Require(s.policy.CanManageSlots(p, req.DoctorID), "only the doctor or an admin can manage availability"); err != nil {
		return nil, false, err
	}
	if req.DayOfWeek == nil {
		return nil, false, apperrors.Invalid("day_of_week is required").WithData("field", "day_of_week")
	}
	slot := &model.AvailabilitySlot{DoctorID: req.DoctorID, DayOfWeek: *req.DayOfWeek}
	if err := normalize(slot, req.StartTime, req.EndTime); err != nil {
		return nil, false, err
	}

	created := false
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.ListByDoctorDay(ctx, slot.DoctorID, slot.DayOfWeek)
		if err != nil {
			return apperrors.Infrastructure(err, "failed to load availability")
		}
		for _, other := range existing {
			if other.SameWindow(slot) {
				*slot = *other
				return nil
			}
		}
		if err := conflict(existing, slot); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, slot); err != nil {
			return apperrors.Infrastructure(err, "failed to create availability slot")
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return slot, created, nil
}

// UpdateSlot changes any of day, start and end. Identical values are a no-op.
func (s *Service) UpdateSlot(ctx context.Context, p policy.Principal, id uuid.UUID, req model.UpdateSlotRequest) (*model.AvailabilitySlot, error) {
	var (
		prev    model.AvailabilitySlot
		slot    *model.AvailabilitySlot
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		slot, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := policy.Require(s.policy.CanManageSlots(p, slot.DoctorID), "only the doctor or an admin can manage availability"); err != nil {
			return err
		}
		prev = *slot

		next := *slot
		if req.DayOfWeek != nil {
			next.DayOfWeek = *req.DayOfWeek
		}
		start, end := next.StartTime, next.EndTime
		if req.StartTime != nil {
			start = *req.StartTime
		}
		if req.EndTime != nil {
			end = *req.EndTime
		}
		if err := normalize(&next, start, end); err != nil {
			return err
		}
		if next.SameWindow(slot) {
			return nil
		}

		existing, err := s.repo.ListByDoctorDay(ctx, next.DoctorID, next.DayOfWeek)
		if err != nil {
			return apperrors.Infrastructure(err, "failed to load availability")
		}
		if err := conflict(existing, &next); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, &next); err != nil {
			return apperrors.Infrastructure(err, "failed to update availability slot")
		}
		slot, changed = &next, true
		return nil
	})
	if err != nil {
		s.fail(ctx, p, actionUpdate, id, err, nil)
		return nil, err
	}

	if changed {
		md := map[string]interface{}{
			"doctor_id": slot.DoctorID.String(),
			"prev":      windowMetadata(&prev),
			"next":      windowMetadata(slot),
		}
		repository.AfterCommit(ctx, func(ctx context.Context) {
			event.Emit(ctx, s.bus, s.log,
				event.New(event.SlotUpdated, p.Actor(), entityType, slot.ID, event.StatusOK, md),
				event.Record(p.Actor(), actionUpdate, entityType, slot.ID, event.StatusOK, md),
			)
		})
	}
	return slot, nil
}

// RemoveSlot deletes the window under a row lock and announces it so
// bookings inside it can be cancelled.
func (s *Service) RemoveSlot(ctx context.Context, p policy.Principal, id uuid.UUID) error {
	var removed *model.AvailabilitySlot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		slot, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := policy.Require(s.policy.CanManageSlots(p, slot.DoctorID), "only the doctor or an admin can manage availability"); err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		removed = slot
		return nil
	})
	if err != nil {
		s.fail(ctx, p, actionRemove, id, err, nil)
		return err
	}

	md := slotMetadata(removed)
	repository.AfterCommit(ctx, func(ctx context.Context) {
		event.Emit(ctx, s.bus, s.log,
			event.New(event.SlotDeleted, p.Actor(), entityType, removed.ID, event.StatusOK, md),
			event.Record(p.Actor(), actionRemove, entityType, removed.ID, event.StatusOK, md),
		)
	})
	return nil
}

// RemoveDoctorSlots deletes every window of a doctor one at a time. A
// failing slot is logged and skipped. It returns how many were removed.
func (s *Service) RemoveDoctorSlots(ctx context.Context, doctorID uuid.UUID, reason string) (int, error) {
	slots, err := s.repo.ListByDoctor(ctx, doctorID)
	if err != nil {
		return 0, apperrors.Infrastructure(err, "failed to list availability")
	}

	removed := 0
	for _, slot := range slots {
		if err := s.RemoveSlot(ctx, policy.System, slot.ID); err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				continue
			}
			s.log.Error(err, "failed to remove slot", "slot_id", slot.ID.String(), "reason", reason)
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *Service) fail(ctx context.Context, p policy.Principal, action string, entityID interface{}, err error, extra map[string]interface{}) {
	event.Emit(ctx, s.bus, s.log, event.Failure(p.Actor(), action, entityType, entityID, err, extra))
}

func normalize(slot *model.AvailabilitySlot, start, end string) error {
	if err := ensureDay(slot.DayOfWeek); err != nil {
		return err
	}
	var err error
	if slot.StartTime, err = ensureTime(start, "start_time"); err != nil {
		return err
	}
	if slot.EndTime, err = ensureTime(end, "end_time"); err != nil {
		return err
	}
	return ensureRange(slot.StartTime, slot.EndTime)
}

// conflict rejects a window overlapping another window of the same doctor
// and day. The slot itself is ignored when updating.
func conflict(existing []*model.AvailabilitySlot, slot *model.AvailabilitySlot) error {
	for _, other := range existing {
		if other.ID == slot.ID {
			continue
		}
		if overlaps(slot.StartTime, slot.EndTime, other.StartTime, other.EndTime) {
			return apperrors.Conflict(apperrors.CodeSlotOverlap, "slot overlaps an existing availability window").
				WithData("conflicting_slot_id", other.ID.String())
		}
	}
	return nil
}

func windowMetadata(slot *model.AvailabilitySlot) map[string]interface{} {
	return map[string]interface{}{
		"day_of_week": slot.DayOfWeek,
		"start_time":  slot.StartTime,
		"end_time":    slot.EndTime,
	}
}

func slotMetadata(slot *model.AvailabilitySlot) map[string]interface{} {
	md := windowMetadata(slot)
	md["doctor_id"] = slot.DoctorID.String()
	return md
}
