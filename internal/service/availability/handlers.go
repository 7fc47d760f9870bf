package availability

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/pkg/event"
)

// RegisterHandlers subscribes the service to the user lifecycle events
// that retire a doctor's windows.
func (s *Service) RegisterHandlers(bus event.Bus) {
	bus.Subscribe(event.UserDeleted, s.onUserDeleted)
	bus.Subscribe(event.UserRoleChanged, s.onUserRoleChanged)
}

func (s *Service) onUserDeleted(ctx context.Context, evt event.Event) error {
	userID := evt.EntityUUID()
	if userID == uuid.Nil {
		s.log.Warn("user deleted event without user id", "event_id", evt.ID.String())
		return nil
	}
	if role := evt.String("role"); role != "" && role != string(policy.RoleDoctor) {
		return nil
	}

	n, err := s.RemoveDoctorSlots(ctx, userID, "user_deleted")
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("removed availability of deleted doctor", "doctor_id", userID.String(), "slots", n)
	}
	return nil
}

func (s *Service) onUserRoleChanged(ctx context.Context, evt event.Event) error {
	if evt.String("from") != string(policy.RoleDoctor) || evt.String("to") == string(policy.RoleDoctor) {
		return nil
	}
	userID := evt.EntityUUID()
	if userID == uuid.Nil {
		s.log.Warn("role changed event without user id", "event_id", evt.ID.String())
		return nil
	}

	n, err := s.RemoveDoctorSlots(ctx, userID, "role_changed")
	if err != nil {
		return err
	}
	s.log.Info("removed availability after role change", "user_id", userID.String(), "slots", n)
	return nil
}
