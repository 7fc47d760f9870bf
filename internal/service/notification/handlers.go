package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/pkg/event"
)

const maskedToken = "[sent by email]"

// RegisterHandlers subscribes the dispatcher. Handlers never return an
// error: a notification that cannot be created or delivered is logged and
// dropped.
func (s *Service) RegisterHandlers(bus event.Bus) {
	bus.Subscribe(event.UserCreated, s.onUserCreated)
	bus.Subscribe(event.UserPasswordResetRequested, s.onPasswordResetRequested)
	bus.Subscribe(event.AppointmentStatusChanged, s.onAppointmentStatusChanged)
	bus.Subscribe(event.AppointmentRescheduled, s.onAppointmentRescheduled)
	bus.Subscribe(event.PaymentCompleted, s.onPaymentCompleted)
	bus.Subscribe(event.PaymentFailed, s.onPaymentFailed)
	bus.Subscribe(event.ReportPublished, s.onReportPublished)
}

func (s *Service) onUserCreated(ctx context.Context, evt event.Event) error {
	msg := "Welcome to MedBooking"
	switch evt.String("role") {
	case string(policy.RoleDoctor):
		msg = "Welcome to MedBooking! Start by publishing your availability."
	case string(policy.RolePatient):
		msg = "Welcome to MedBooking! You can now book your appointments."
	}
	s.dispatch(ctx, evt, evt.EntityUUID(), model.ChannelInApp, msg, map[string]interface{}{"role": evt.String("role")})
	return nil
}

// onPasswordResetRequested mails the reset token; it is the only way the
// user ever sees it. The stored copy of the message has the token masked.
func (s *Service) onPasswordResetRequested(ctx context.Context, evt event.Event) error {
	token := evt.String("token")
	if token == "" {
		s.log.Warn("password reset event without token", "event_id", evt.ID)
		return nil
	}
	text := func(code string) string {
		msg := "We received a password reset request. Use this code to choose a new password: " + code +
			". If it was not you, ignore this message."
		if exp := evt.String("expires_at"); exp != "" {
			msg += " The code expires at " + exp + "."
		}
		return msg
	}
	s.notify(ctx, evt, evt.EntityUUID(), model.ChannelEmail, text(maskedToken), text(token), nil)
	return nil
}

func (s *Service) onAppointmentStatusChanged(ctx context.Context, evt event.Event) error {
	to := evt.String("to")
	var msg string
	switch model.AppointmentStatus(to) {
	case model.AppointmentStatusConfirmed:
		msg = "Appointment confirmed"
		if at := evt.String("scheduled_at"); at != "" {
			msg += " for " + at
		}
	case model.AppointmentStatusCancelled:
		msg = "Appointment cancelled"
	case model.AppointmentStatusCompleted:
		msg = "Appointment completed"
	default:
		return nil
	}
	s.dispatch(ctx, evt, evt.UUID("patient_id"), model.ChannelInApp, msg, map[string]interface{}{"to_status": to})
	return nil
}

func (s *Service) onAppointmentRescheduled(ctx context.Context, evt event.Event) error {
	to := evt.String("to")
	if to == "" {
		s.log.Warn("reschedule event without target time", "event_id", evt.ID)
		return nil
	}
	s.dispatch(ctx, evt, evt.UUID("patient_id"), model.ChannelInApp, "Appointment rescheduled to "+to, nil)
	return nil
}

func (s *Service) onPaymentCompleted(ctx context.Context, evt event.Event) error {
	msg := "Payment confirmed"
	if amount, ok := evt.Float("amount"); ok {
		currency := evt.String("currency")
		if currency == "" {
			currency = model.DefaultCurrency
		}
		msg += fmt.Sprintf(": %.2f %s", amount, strings.ToUpper(currency))
	}
	s.dispatch(ctx, evt, evt.UUID("user_id"), model.ChannelInApp, msg, nil)
	return nil
}

func (s *Service) onPaymentFailed(ctx context.Context, evt event.Event) error {
	msg := "Payment failed. Please try again."
	if reason := evt.String("reason"); reason != "" {
		msg = "Payment failed: " + reason
	}
	s.dispatch(ctx, evt, evt.UUID("user_id"), model.ChannelInApp, msg, map[string]interface{}{"reason": evt.String("reason")})
	return nil
}

func (s *Service) onReportPublished(ctx context.Context, evt event.Event) error {
	appt := evt.String("appointment_id")
	if appt == "" {
		s.log.Warn("report event without appointment", "event_id", evt.ID)
		return nil
	}
	if evt.Metadata["visible_to_patient"] == false {
		return nil
	}
	s.dispatch(ctx, evt, evt.UUID("patient_id"), model.ChannelInApp, "A new report is available for appointment "+appt,
		map[string]interface{}{"appointment_id": appt, "report_id": evt.EntityID})
	return nil
}

// dispatch queues and immediately delivers one message as the system.
func (s *Service) dispatch(ctx context.Context, evt event.Event, userID uuid.UUID, channel, msg string, extra map[string]interface{}) {
	s.notify(ctx, evt, userID, channel, msg, "", extra)
}

// notify queues msg and delivers body in its place when body is set.
func (s *Service) notify(ctx context.Context, evt event.Event, userID uuid.UUID, channel, msg, body string, extra map[string]interface{}) {
	log := s.log.With("trigger", evt.Name)
	if userID == uuid.Nil {
		log.Warn("event without recipient, skipping notification", "event_id", evt.ID)
		return
	}

	n, err := s.Queue(ctx, policy.System, model.QueueNotificationRequest{UserID: userID, Message: msg, Channel: channel})
	if err != nil {
		log.Error(err, "failed to queue notification", "user_id", userID.String())
		return
	}
	n.Body = body
	if _, err := s.deliver(ctx, policy.System, n); err != nil {
		log.Error(err, "failed to deliver notification", "notification_id", n.ID.String())
	}

	md := map[string]interface{}{"trigger": evt.Name, "user_id": userID.String(), "channel": channel}
	for k, v := range extra {
		md[k] = v
	}
	event.Emit(ctx, s.bus, s.log, event.Record(event.SystemActor, actionAuto, entityType, n.ID, event.StatusOK, md))
}
