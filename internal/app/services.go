// Package app wires repositories, the event bus and the domain services
// into the units the binaries run.
package app

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/medbooking/internal/email"
	accounthandler "github.com/jwalitptl/medbooking/internal/handler/account"
	appointmenthandler "github.com/jwalitptl/medbooking/internal/handler/appointment"
	audithandler "github.com/jwalitptl/medbooking/internal/handler/audit"
	availabilityhandler "github.com/jwalitptl/medbooking/internal/handler/availability"
	"github.com/jwalitptl/medbooking/internal/handler/health"
	notificationhandler "github.com/jwalitptl/medbooking/internal/handler/notification"
	paymenthandler "github.com/jwalitptl/medbooking/internal/handler/payment"
	reporthandler "github.com/jwalitptl/medbooking/internal/handler/report"
	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/repository"
	"github.com/jwalitptl/medbooking/internal/router"
	"github.com/jwalitptl/medbooking/internal/service/account"
	"github.com/jwalitptl/medbooking/internal/service/appointment"
	"github.com/jwalitptl/medbooking/internal/service/audit"
	"github.com/jwalitptl/medbooking/internal/service/availability"
	"github.com/jwalitptl/medbooking/internal/service/notification"
	"github.com/jwalitptl/medbooking/internal/service/outbox"
	"github.com/jwalitptl/medbooking/internal/service/payment"
	"github.com/jwalitptl/medbooking/internal/service/report"
	"github.com/jwalitptl/medbooking/pkg/auth"
	"github.com/jwalitptl/medbooking/pkg/event"
	"github.com/jwalitptl/medbooking/pkg/lock"
	"github.com/jwalitptl/medbooking/pkg/logger"
	"github.com/jwalitptl/medbooking/pkg/metrics"
	"github.com/jwalitptl/medbooking/pkg/security"
)

// Deps are the collaborators every service set is built from.
type Deps struct {
	Repos   repository.Repositories
	Bus     event.Bus
	Log     *logger.Logger
	Metrics *metrics.Metrics

	Tokens      *auth.TokenManager
	Hasher      security.PasswordHasher
	ResetTokens account.TokenStore
	ResetTTL    time.Duration

	// ReportKey enables note encryption when non-empty.
	ReportKey []byte
	Mail      email.Service
	Locker    lock.Locker
}

type Services struct {
	Availability *availability.Service
	Appointment  *appointment.Service
	Payment      *payment.Service
	Report       *report.Service
	Notification *notification.Service
	Audit        *audit.Service
	Account      *account.Service
}

func NewServices(d Deps) (*Services, error) {
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNop()
	}
	if d.Locker == nil {
		d.Locker = lock.Nop()
	}
	if d.Hasher == nil {
		d.Hasher = security.NewBcryptHasher(0)
	}
	if d.ResetTokens == nil {
		d.ResetTokens = account.NewMemoryTokenStore(10 * time.Minute)
	}

	var enc security.Encryptor
	if len(d.ReportKey) > 0 {
		var err error
		if enc, err = security.NewAESEncryptor(d.ReportKey); err != nil {
			return nil, fmt.Errorf("failed to init report encryption: %w", err)
		}
	}

	pol := policy.New()
	repos := d.Repos

	slots := availability.NewService(repos.Tx, repos.Availability, d.Bus, pol, d.Log)

	notifOpts := []notification.Option{}
	if d.Mail != nil {
		notifOpts = append(notifOpts, notification.WithSender(model.ChannelEmail, notification.NewEmailSender(d.Mail, repos.Users)))
	}

	return &Services{
		Availability: slots,
		Appointment: appointment.NewService(repos.Tx, repos.Appointments, slots, d.Bus, pol, d.Log,
			appointment.WithLocker(d.Locker),
			appointment.WithMetrics(d.Metrics),
		),
		Payment:      payment.NewService(repos.Tx, repos.Payments, outbox.NewWriter(repos.Outbox), d.Bus, pol, d.Log),
		Report:       report.NewService(repos.Tx, repos.Reports, repos.Appointments, d.Bus, pol, enc, d.Log),
		Notification: notification.NewService(repos.Notifications, d.Bus, pol, d.Log, notifOpts...),
		Audit:        audit.NewService(repos.Audit, d.Bus, d.Log),
		Account:      account.NewService(repos.Users, d.Hasher, d.ResetTokens, d.Tokens, d.Bus, pol, d.ResetTTL, d.Log),
	}, nil
}

// RegisterHandlers subscribes every reactive handler on bus.
func (s *Services) RegisterHandlers(bus event.Bus) {
	s.Audit.RegisterHandlers(bus)
	s.Availability.RegisterHandlers(bus)
	s.Appointment.RegisterHandlers(bus)
	s.Payment.RegisterHandlers(bus)
	s.Report.RegisterHandlers(bus)
	s.Notification.RegisterHandlers(bus)
}

// Handlers builds the HTTP handler set served by the router.
func (s *Services) Handlers(checks map[string]health.Check, gatherer prometheus.Gatherer) router.Handlers {
	return router.Handlers{
		Health:       health.NewHandler(checks, gatherer),
		Account:      accounthandler.NewHandler(s.Account),
		Availability: availabilityhandler.NewHandler(s.Availability),
		Appointment:  appointmenthandler.NewHandler(s.Appointment),
		Payment:      paymenthandler.NewHandler(s.Payment),
		Report:       reporthandler.NewHandler(s.Report),
		Notification: notificationhandler.NewHandler(s.Notification),
		Audit:        audithandler.NewHandler(s.Audit),
	}
}
