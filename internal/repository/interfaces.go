package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
)

// All repository interfaces in one file. Every method joins the
// transaction carried by ctx when there is one.
type (
	// Transactor runs fn inside a single store transaction. Hooks
	// registered with AfterCommit run only once the commit succeeded.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	}

	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		// GetForUpdate locks the row until the surrounding transaction ends.
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		Update(ctx context.Context, appointment *model.Appointment) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter model.AppointmentFilter) ([]*model.Appointment, error)
		// ExistsActiveAt reports a requested/confirmed appointment at the exact instant.
		ExistsActiveAt(ctx context.Context, doctorID uuid.UUID, at time.Time, excludeID *uuid.UUID) (bool, error)
	}

	AvailabilityRepository interface {
		Create(ctx context.Context, slot *model.AvailabilitySlot) error
		Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error)
		Update(ctx context.Context, slot *model.AvailabilitySlot) error
		Delete(ctx context.Context, id uuid.UUID) error
		ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.AvailabilitySlot, error)
		ListByDoctorDay(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]*model.AvailabilitySlot, error)
	}

	PaymentRepository interface {
		Create(ctx context.Context, payment *model.Payment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Payment, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Payment, error)
		Update(ctx context.Context, payment *model.Payment) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, error)
		HasPending(ctx context.Context, appointmentID uuid.UUID) (bool, error)
		FindByProviderID(ctx context.Context, provider, providerPaymentID string) (*model.Payment, error)
		// FailPending moves every pending payment matching the filter to
		// failed and returns the rows it changed.
		FailPending(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, error)
	}

	ReportRepository interface {
		Create(ctx context.Context, report *model.Report) error
		Get(ctx context.Context, id uuid.UUID) (*model.Report, error)
		UpdateVisibility(ctx context.Context, report *model.Report) error
		Delete(ctx context.Context, id uuid.UUID) error
		ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.Report, error)
		HideFromPatientByAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error)
		HideFromPatientByAuthor(ctx context.Context, authorID uuid.UUID) (int64, error)
		DeleteByAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error)
	}

	NotificationRepository interface {
		Create(ctx context.Context, notification *model.Notification) error
		Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
		UpdateStatus(ctx context.Context, notification *model.Notification) error
		ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Notification, error)
		DeleteSentBefore(ctx context.Context, before time.Time) (int64, error)
	}

	AuditRepository interface {
		Create(ctx context.Context, entry *model.AuditLogEntry) error
		List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLogEntry, error)
		DeleteBefore(ctx context.Context, before time.Time) (int64, error)
		Stats(ctx context.Context, groupBy string) ([]model.AuditStat, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// ClaimPending moves up to limit pending rows to processing and
		// returns them. Rows stuck in processing for longer than lease are
		// claimed again.
		ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxRetries int) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
		UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
		UpdateRole(ctx context.Context, id uuid.UUID, role string) error
		Delete(ctx context.Context, id uuid.UUID) error
	}
)
