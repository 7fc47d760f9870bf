package payment

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/pkg/event"
)

// RegisterHandlers fails pending payments whose appointment or payer went away.
func (s *Service) RegisterHandlers(bus event.Bus) {
	bus.Subscribe(event.AppointmentStatusChanged, s.onAppointmentStatusChanged)
	bus.Subscribe(event.AppointmentDeleted, s.onAppointmentDeleted)
	bus.Subscribe(event.UserDeleted, s.onUserDeleted)
}

func (s *Service) onAppointmentStatusChanged(ctx context.Context, evt event.Event) error {
	if evt.String("to") != string(model.AppointmentStatusCancelled) {
		return nil
	}
	id := evt.EntityUUID()
	if id == uuid.Nil {
		return nil
	}
	s.failPending(ctx, model.PaymentFilter{AppointmentID: &id}, event.AppointmentCancelled, "appointment_id", id)
	return nil
}

func (s *Service) onAppointmentDeleted(ctx context.Context, evt event.Event) error {
	id := evt.EntityUUID()
	if id == uuid.Nil {
		return nil
	}
	s.failPending(ctx, model.PaymentFilter{AppointmentID: &id}, event.AppointmentDeleted, "appointment_id", id)
	return nil
}

func (s *Service) onUserDeleted(ctx context.Context, evt event.Event) error {
	id := evt.EntityUUID()
	if id == uuid.Nil {
		return nil
	}
	s.failPending(ctx, model.PaymentFilter{UserID: &id}, event.UserDeleted, "user_id", id)
	return nil
}

func (s *Service) failPending(ctx context.Context, f model.PaymentFilter, cause, key string, id uuid.UUID) {
	n, err := s.FailPending(ctx, f, cause)
	if err != nil {
		s.log.Error(err, "failed to fail pending payments", key, id.String(), "cause", cause)
		s.fail(ctx, policy.System, actionFailPending, nil, err, map[string]interface{}{key: id.String(), "cause": cause})
		return
	}
	if n > 0 {
		s.log.Info("failed pending payments", key, id.String(), "cause", cause, "affected", n)
	}
}
