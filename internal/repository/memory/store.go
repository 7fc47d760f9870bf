// Package memory is an in-process implementation of the repository
// interfaces. It backs the "memory" storage driver and the service tests.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/repository"
)

// Store holds every table. Transactions are serialized by txMu. Writes made
// inside a transaction record an undo step, so a rollback reverts only that
// transaction's own changes.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	appointments  map[uuid.UUID]model.Appointment
	slots         map[uuid.UUID]model.AvailabilitySlot
	payments      map[uuid.UUID]model.Payment
	reports       map[uuid.UUID]model.Report
	notifications map[uuid.UUID]model.Notification
	audit         []model.AuditLogEntry
	outbox        []model.OutboxEvent
	users         map[uuid.UUID]model.User
}

func NewStore() *Store {
	return &Store{
		appointments:  make(map[uuid.UUID]model.Appointment),
		slots:         make(map[uuid.UUID]model.AvailabilitySlot),
		payments:      make(map[uuid.UUID]model.Payment),
		reports:       make(map[uuid.UUID]model.Report),
		notifications: make(map[uuid.UUID]model.Notification),
		users:         make(map[uuid.UUID]model.User),
	}
}

// txLog is the connection handle of a memory transaction.
type txLog struct {
	undo []func()
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if repository.InTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	log := &txLog{}
	txCtx, hooks := repository.Begin(ctx, log)

	func() {
		defer func() {
			if p := recover(); p != nil {
				s.rollback(log)
				s.txMu.Unlock()
				panic(p)
			}
		}()
		err = fn(txCtx)
	}()

	if err != nil {
		s.rollback(log)
		s.txMu.Unlock()
		return err
	}
	s.txMu.Unlock()

	hooks.Run()
	return nil
}

func (s *Store) rollback(log *txLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(log.undo) - 1; i >= 0; i-- {
		log.undo[i]()
	}
	log.undo = nil
}

// track registers undo for a write made under ctx. It is a no-op outside a
// transaction. Callers hold s.mu.
func track(ctx context.Context, undo func()) {
	if log, ok := repository.Conn(ctx).(*txLog); ok {
		log.undo = append(log.undo, undo)
	}
}

// trackKey records the current value of m[id] so a rollback can put it back.
func trackKey[V any](ctx context.Context, m map[uuid.UUID]V, id uuid.UUID) {
	prev, existed := m[id]
	track(ctx, func() {
		if existed {
			m[id] = prev
		} else {
			delete(m, id)
		}
	})
}

// New returns every repository backed by one fresh store.
func New() repository.Repositories {
	return NewRepositories(NewStore())
}

func NewRepositories(s *Store) repository.Repositories {
	return repository.Repositories{
		Tx:            s,
		Appointments:  NewAppointmentRepository(s),
		Availability:  NewAvailabilityRepository(s),
		Payments:      NewPaymentRepository(s),
		Reports:       NewReportRepository(s),
		Notifications: NewNotificationRepository(s),
		Audit:         NewAuditRepository(s),
		Outbox:        NewOutboxRepository(s),
		Users:         NewUserRepository(s),
	}
}
