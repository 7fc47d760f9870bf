package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/medbooking/internal/repository"
)

type appointmentRepository struct{ BaseRepository }
type availabilityRepository struct{ BaseRepository }
type paymentRepository struct{ BaseRepository }
type reportRepository struct{ BaseRepository }
type notificationRepository struct{ BaseRepository }
type auditRepository struct{ BaseRepository }
type outboxRepository struct{ BaseRepository }
type userRepository struct{ BaseRepository }

// New wires every repository onto one connection pool.
func New(db *sqlx.DB) repository.Repositories {
	base := NewBaseRepository(db)
	return repository.Repositories{
		Tx:            &base,
		Appointments:  &appointmentRepository{base},
		Availability:  &availabilityRepository{base},
		Payments:      &paymentRepository{base},
		Reports:       &reportRepository{base},
		Notifications: &notificationRepository{base},
		Audit:         &auditRepository{base},
		Outbox:        &outboxRepository{base},
		Users:         &userRepository{base},
	}
}
