package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/service/availability"
	"github.com/jwalitptl/medbooking/pkg/event"
)

// RegisterHandlers subscribes the reactions to sibling domains. Each
// handler walks its whole working set; a failing appointment is logged
// and audited, never returned to the publisher.
func (s *Service) RegisterHandlers(bus event.Bus) {
	bus.Subscribe(event.SlotDeleted, s.onSlotDeleted)
	bus.Subscribe(event.SlotUpdated, s.onSlotUpdated)
	bus.Subscribe(event.PaymentFailed, s.onPaymentFailed)
	bus.Subscribe(event.UserDeleted, s.onUserDeleted)
}

// window is a weekly HH:MM range carried in slot event metadata.
type window struct {
	day        int
	start, end string
}

func windowFrom(m map[string]interface{}) (window, bool) {
	evt := event.Event{Metadata: m}
	d, ok := evt.Float("day_of_week")
	if !ok {
		return window{}, false
	}
	w := window{day: int(d), start: evt.String("start_time"), end: evt.String("end_time")}
	return w, w.start != "" && w.end != ""
}

func (w window) contains(at time.Time) bool {
	day, start, end := availability.Window(at, model.AppointmentDuration)
	return day == w.day && w.start <= start && w.end >= end
}

// onSlotDeleted cancels the active appointments the deleted slot was
// holding: an explicit appointment, an explicit start instant, or every
// future appointment inside the deleted window.
func (s *Service) onSlotDeleted(ctx context.Context, evt event.Event) error {
	appts, err := s.slotTargets(ctx, evt, evt.Metadata)
	if err != nil {
		return err
	}
	for _, appt := range appts {
		s.cancelAsSystem(ctx, appt.ID, ReasonSlotDeleted, nil)
	}
	if len(appts) > 0 {
		s.log.Info("slot deleted, cancelled appointments", "slot_id", evt.EntityID, "affected", len(appts))
	}
	return nil
}

// onSlotUpdated moves the appointments of the old window into the new one,
// keeping their offset from the window start when it still fits.
func (s *Service) onSlotUpdated(ctx context.Context, evt event.Event) error {
	if target, ok := evt.Time("to"); ok {
		appts, err := s.slotTargets(ctx, evt, evt.Metadata)
		if err != nil {
			return err
		}
		for _, appt := range appts {
			s.rescheduleAsSystem(ctx, appt.ID, target)
		}
		return nil
	}

	prev, okPrev := windowFrom(evt.Map("prev"))
	next, okNext := windowFrom(evt.Map("next"))
	if !okPrev || !okNext {
		s.log.Warn("slot updated event without windows", "event_id", evt.ID.String())
		return nil
	}

	appts, err := s.slotTargets(ctx, evt, evt.Map("prev"))
	if err != nil {
		return err
	}
	for _, appt := range appts {
		target := s.shift(appt.ScheduledAt, prev, next)
		if target.Equal(appt.ScheduledAt) {
			continue
		}
		s.rescheduleAsSystem(ctx, appt.ID, target)
	}
	return nil
}

// shift maps an instant inside prev onto the matching instant inside next.
func (s *Service) shift(at time.Time, prev, next window) time.Time {
	at = at.UTC()
	midnight := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	offset := at.Sub(midnight) - clock(prev.start)

	day := midnight.AddDate(0, 0, next.day-prev.day)
	start := clock(next.start) + offset
	if offset < 0 || start+model.AppointmentDuration > clock(next.end) {
		start = clock(next.start)
	}
	target := day.Add(start)
	for !target.After(s.now()) {
		target = target.AddDate(0, 0, 7)
	}
	return target
}

func clock(hhmm string) time.Duration {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
}

// slotTargets resolves which active appointments a slot event refers to.
func (s *Service) slotTargets(ctx context.Context, evt event.Event, win map[string]interface{}) ([]*model.Appointment, error) {
	if id := evt.UUID("appointment_id"); id != uuid.Nil {
		appt, err := s.repo.Get(ctx, id)
		if err != nil {
			s.log.Warn("slot event references unknown appointment", "appointment_id", id.String())
			return nil, nil
		}
		if !appt.Status.Active() {
			return nil, nil
		}
		return []*model.Appointment{appt}, nil
	}

	doctorID := evt.UUID("doctor_id")
	if doctorID == uuid.Nil {
		s.log.Warn("slot event without doctor", "event_id", evt.ID.String())
		return nil, nil
	}

	if start, ok := evt.Time("start"); ok {
		start = start.UTC()
		return s.repo.List(ctx, model.AppointmentFilter{
			DoctorID:    &doctorID,
			ScheduledAt: &start,
			Statuses:    model.ActiveAppointmentStatuses,
		})
	}

	w, ok := windowFrom(win)
	if !ok {
		return nil, nil
	}
	now := s.now().UTC()
	candidates, err := s.repo.List(ctx, model.AppointmentFilter{
		DoctorID: &doctorID,
		Statuses: model.ActiveAppointmentStatuses,
		From:     &now,
	})
	if err != nil {
		return nil, err
	}
	var out []*model.Appointment
	for _, appt := range candidates {
		if w.contains(appt.ScheduledAt) {
			out = append(out, appt)
		}
	}
	return out, nil
}

// onPaymentFailed cancels the linked appointment while it is still requested.
func (s *Service) onPaymentFailed(ctx context.Context, evt event.Event) error {
	id := evt.UUID("appointment_id")
	if id == uuid.Nil {
		return nil
	}
	requested := model.AppointmentStatusRequested
	s.cancelAsSystem(ctx, id, ReasonPaymentFailed, &requested)
	return nil
}

// onUserDeleted cancels every active appointment of the user, whether
// they were the patient or the doctor.
func (s *Service) onUserDeleted(ctx context.Context, evt event.Event) error {
	userID := evt.EntityUUID()
	if userID == uuid.Nil {
		return nil
	}
	appts, err := s.repo.List(ctx, model.AppointmentFilter{
		ParticipantID: &userID,
		Statuses:      model.ActiveAppointmentStatuses,
	})
	if err != nil {
		return err
	}
	for _, appt := range appts {
		s.cancelAsSystem(ctx, appt.ID, ReasonUserDeleted, nil)
	}
	return nil
}

func (s *Service) cancelAsSystem(ctx context.Context, id uuid.UUID, reason string, onlyFrom *model.AppointmentStatus) {
	_, _, err := s.transition(ctx, policy.System, id, model.AppointmentStatusCancelled, reason, onlyFrom)
	if err != nil {
		s.log.Error(err, "failed to cancel appointment", "appointment_id", id.String(), "reason", reason)
		s.fail(ctx, policy.System, actionSetStatus, id, err, map[string]interface{}{
			"to":     string(model.AppointmentStatusCancelled),
			"reason": reason,
		})
	}
}

func (s *Service) rescheduleAsSystem(ctx context.Context, id uuid.UUID, at time.Time) {
	_, _, err := s.reschedule(ctx, policy.System, id, at, ReasonSlotUpdated)
	if err != nil {
		s.log.Error(err, "failed to reschedule appointment", "appointment_id", id.String(), "to", event.FormatTime(at))
		s.fail(ctx, policy.System, actionReschedule, id, err, map[string]interface{}{
			"to":     event.FormatTime(at),
			"reason": ReasonSlotUpdated,
		})
	}
}
