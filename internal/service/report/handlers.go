package report

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/pkg/event"
)

const (
	actionHideForCancelled = "reports.report.hideForCancelledAppointment"
	actionRemoveForDeleted = "reports.report.removeForDeletedAppointment"
	actionHideForAuthor    = "reports.report.hideForDeletedAuthor"
)

func (s *Service) RegisterHandlers(bus event.Bus) {
	bus.Subscribe(event.AppointmentStatusChanged, s.onAppointmentStatusChanged)
	bus.Subscribe(event.AppointmentDeleted, s.onAppointmentDeleted)
	bus.Subscribe(event.UserDeleted, s.onUserDeleted)
}

// onAppointmentStatusChanged hides the reports of a cancelled appointment
// from the patient. Doctor visibility stays as it was.
func (s *Service) onAppointmentStatusChanged(ctx context.Context, evt event.Event) error {
	if evt.String("to") != string(model.AppointmentStatusCancelled) {
		return nil
	}
	id := evt.EntityUUID()
	if id == uuid.Nil {
		return nil
	}
	n, err := s.repo.HideFromPatientByAppointment(ctx, id)
	s.settle(ctx, actionHideForCancelled, "appointment_id", id, n, err)
	return nil
}

func (s *Service) onAppointmentDeleted(ctx context.Context, evt event.Event) error {
	id := evt.EntityUUID()
	if id == uuid.Nil {
		return nil
	}
	n, err := s.repo.DeleteByAppointment(ctx, id)
	s.settle(ctx, actionRemoveForDeleted, "appointment_id", id, n, err)
	return nil
}

// onUserDeleted hides the reports the user authored from patients.
func (s *Service) onUserDeleted(ctx context.Context, evt event.Event) error {
	id := evt.EntityUUID()
	if id == uuid.Nil {
		return nil
	}
	n, err := s.repo.HideFromPatientByAuthor(ctx, id)
	s.settle(ctx, actionHideForAuthor, "author_id", id, n, err)
	return nil
}

// settle logs and audits the outcome of a bulk change. Errors stay here;
// the publisher already committed.
func (s *Service) settle(ctx context.Context, action, key string, id uuid.UUID, n int64, err error) {
	md := map[string]interface{}{key: id.String()}
	if err != nil {
		s.log.Error(err, "reactive report update failed", "action", action, key, id.String())
		s.fail(ctx, policy.System, action, nil, err, md)
		return
	}
	if n == 0 {
		return
	}
	md["affected"] = n
	s.log.Info("reactive report update", "action", action, key, id.String(), "affected", n)
	event.Emit(ctx, s.bus, s.log, event.Record(event.SystemActor, action, entityType, nil, event.StatusOK, md))
}
