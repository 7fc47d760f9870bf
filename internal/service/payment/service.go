// Package payment is the payment ledger. Every event it produces is staged
// in the outbox inside the transaction that changed the payment.
package payment

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/repository"
	"github.com/jwalitptl/medbooking/internal/service/outbox"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/event"
	"github.com/jwalitptl/medbooking/pkg/logger"
)

const entityType = "payment"

const (
	actionCreate       = "payments.payment.create"
	actionUpdateStatus = "payments.payment.updateStatus"
	actionMarkPaid     = "payments.payment.markPaid"
	actionRefund       = "payments.payment.refund"
	actionAttach       = "payments.payment.updateProvider"
	actionRemove       = "payments.payment.remove"
	actionList         = "payments.payment.list"
	actionFailPending  = "payments.payment.failPending"
)

var providerPaymentID = regexp.MustCompile(`^[a-zA-Z0-9\-_]{3,128}$`)

var (
	methods         = []string{model.PaymentMethodCard, model.PaymentMethodBankTransfer, model.PaymentMethodCash}
	createProviders = []string{model.PaymentProviderStripe, model.PaymentProviderPaypal, model.PaymentProviderTest}
	linkProviders   = []string{model.PaymentProviderStripe, model.PaymentProviderPaypal}
)

type Service struct {
	tx     repository.Transactor
	repo   repository.PaymentRepository
	outbox *outbox.Writer
	bus    event.Bus
	policy *policy.Policy
	log    *logger.Logger
	now    func() time.Time
}

func NewService(
	tx repository.Transactor,
	repo repository.PaymentRepository,
	ob *outbox.Writer,
	bus event.Bus,
	pol *policy.Policy,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		tx:     tx,
		repo:   repo,
		outbox: ob,
		bus:    bus,
		policy: pol,
		log:    log.With("service", "payment"),
		now:    time.Now,
	}
}

// Create opens a pending payment. An appointment holds at most one
// pending payment at a time.
func (s *Service) Create(ctx context.Context, p policy.Principal, req model.CreatePaymentRequest) (*model.Payment, error) {
	pay, err := s.create(ctx, p, req)
	if err != nil {
		extra := map[string]interface{}{"user_id": req.UserID.String()}
		if req.AppointmentID != nil {
			extra["appointment_id"] = req.AppointmentID.String()
		}
		s.fail(ctx, p, actionCreate, nil, err, extra)
		return nil, err
	}
	return pay, nil
}

func (s *Service) create(ctx context.Context, p policy.Principal, req model.CreatePaymentRequest) (*model.Payment, error) {
	if req.UserID == uuid.Nil {
		return nil, apperrors.Invalid("user_id is required").WithData("field", "user_id")
	}
	if err := policy.Require(s.policy.CanOwnPayment(p, req.UserID), "cannot create a payment for another user"); err != nil {
		return nil, err
	}
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return nil, apperrors.Invalid("amount must be a positive number").WithData("field", "amount")
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if !oneOf(method, methods) {
		return nil, apperrors.Invalid("unsupported payment method").WithData("field", "method")
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider != "" && !oneOf(provider, createProviders) {
		return nil, apperrors.Invalid("unsupported provider").WithData("field", "provider")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = model.DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, apperrors.Invalid("currency must be a 3 letter code").WithData("field", "currency")
	}

	pay := &model.Payment{
		UserID:        req.UserID,
		AppointmentID: req.AppointmentID,
		Amount:        math.Round(req.Amount*100) / 100,
		Currency:      currency,
		Method:        method,
		Status:        model.PaymentStatusPending,
		Metadata:      req.Metadata.Clone(),
	}
	if provider != "" {
		pay.Provider = &provider
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if pay.AppointmentID != nil {
			pending, err := s.repo.HasPending(ctx, *pay.AppointmentID)
			if err != nil {
				return apperrors.Infrastructure(err, "failed to check pending payments")
			}
			if pending {
				return apperrors.Conflict(apperrors.CodeDuplicatePending, "pending payment already exists for this appointment").
					WithData("appointment_id", pay.AppointmentID.String())
			}
		}
		if err := s.repo.Create(ctx, pay); err != nil {
			return err
		}

		md := paymentMetadata(pay)
		return s.outbox.Stage(ctx,
			event.New(event.PaymentCreated, p.Actor(), entityType, pay.ID, event.StatusOK, md),
			event.Record(p.Actor(), actionCreate, entityType, pay.ID, event.StatusOK, md),
		)
	})
	if err != nil {
		return nil, err
	}
	return pay, nil
}

func (s *Service) Get(ctx context.Context, p policy.Principal, id uuid.UUID) (*model.Payment, error) {
	pay, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Require(s.policy.CanOwnPayment(p, pay.UserID), "not the owner of this payment"); err != nil {
		return nil, err
	}
	return pay, nil
}

// List returns the caller's payments; admins may list anyone's.
func (s *Service) List(ctx context.Context, p policy.Principal, f model.PaymentFilter) ([]*model.Payment, error) {
	if !p.Privileged() {
		if f.UserID != nil && *f.UserID != p.ID {
			err := apperrors.Forbidden("cannot list another user's payments")
			s.fail(ctx, p, actionList, nil, err, nil)
			return nil, err
		}
		id := p.ID
		f.UserID = &id
	}
	out, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, apperrors.Infrastructure(err, "failed to list payments")
	}
	return out, nil
}

// UpdateStatus moves a payment along pending -> {paid, failed, refunded},
// paid -> refunded. Repeating the current status is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, p policy.Principal, id uuid.UUID, to model.PaymentStatus, reason string) (*model.Payment, error) {
	return s.transition(ctx, p, id, to, reason, actionUpdateStatus, nil)
}

func (s *Service) MarkPaid(ctx context.Context, p policy.Principal, id uuid.UUID) (*model.Payment, error) {
	return s.transition(ctx, p, id, model.PaymentStatusPaid, "", actionMarkPaid, nil)
}

// Refund returns a paid payment. Admin only.
func (s *Service) Refund(ctx context.Context, p policy.Principal, id uuid.UUID, reason string) (*model.Payment, error) {
	if err := policy.RequireAdmin(p); err != nil {
		s.fail(ctx, p, actionRefund, id, err, nil)
		return nil, err
	}
	return s.transition(ctx, p, id, model.PaymentStatusRefunded, reason, actionRefund, func(pay *model.Payment) error {
		if pay.Status != model.PaymentStatusPaid {
			return apperrors.Conflict(apperrors.CodeInvalidTransition, "only paid payments can be refunded").
				WithData("status", string(pay.Status))
		}
		return nil
	})
}

func (s *Service) transition(
	ctx context.Context,
	p policy.Principal,
	id uuid.UUID,
	to model.PaymentStatus,
	reason, action string,
	guard func(*model.Payment) error,
) (*model.Payment, error) {
	var (
		pay  *model.Payment
		noop bool
	)
	err := policy.Require(s.policy.CanManagePayment(p), "not allowed to change payment status")
	if err == nil && !to.Valid() {
		err = apperrors.Invalid(fmt.Sprintf("unknown payment status %q", to)).WithData("field", "status")
	}
	if err == nil {
		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			pay, err = s.repo.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if pay.Status == to {
				noop = true
				return nil
			}
			if guard != nil {
				if err := guard(pay); err != nil {
					return err
				}
			}
			if !pay.Status.CanTransitionTo(to) {
				return apperrors.Conflict(apperrors.CodeInvalidTransition,
					fmt.Sprintf("cannot move payment from %s to %s", pay.Status, to)).
					WithData("from", string(pay.Status)).
					WithData("to", string(to))
			}

			from := pay.Status
			s.apply(pay, to, reason)
			if err := s.repo.Update(ctx, pay); err != nil {
				return err
			}
			return s.outbox.Stage(ctx, statusEvents(p.Actor(), pay, from, reason, action)...)
		})
	}
	if err != nil {
		s.fail(ctx, p, action, id, err, map[string]interface{}{"to": string(to)})
		return nil, err
	}

	if noop {
		event.Emit(ctx, s.bus, s.log, event.Record(p.Actor(), action, entityType, pay.ID, event.StatusWarning,
			map[string]interface{}{"reason": "already_in_status", "status": string(pay.Status)}))
	}
	return pay, nil
}

func (s *Service) apply(pay *model.Payment, to model.PaymentStatus, reason string) {
	now := s.now().UTC()
	pay.Status = to
	switch to {
	case model.PaymentStatusPaid:
		pay.PaidAt = &now
	case model.PaymentStatusRefunded:
		md := pay.Metadata.Clone()
		if reason != "" {
			md["refund_reason"] = reason
		} else {
			md["refund_reason"] = nil
		}
		md["refunded_at"] = event.FormatTime(now)
		pay.Metadata = md
	}
}

// AttachProvider links the payment to its id at an external provider.
// The (provider, id) pair is unique across payments.
func (s *Service) AttachProvider(ctx context.Context, p policy.Principal, id uuid.UUID, req model.AttachProviderRequest) (*model.Payment, error) {
	pay, err := s.attachProvider(ctx, p, id, req)
	if err != nil {
		s.fail(ctx, p, actionAttach, id, err, map[string]interface{}{"provider": req.Provider})
		return nil, err
	}
	return pay, nil
}

func (s *Service) attachProvider(ctx context.Context, p policy.Principal, id uuid.UUID, req model.AttachProviderRequest) (*model.Payment, error) {
	if err := policy.RequireAdmin(p); err != nil {
		return nil, err
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if !oneOf(provider, linkProviders) {
		return nil, apperrors.Invalid("unsupported provider").WithData("field", "provider")
	}
	if !providerPaymentID.MatchString(req.ProviderPaymentID) {
		return nil, apperrors.Invalid("invalid provider_payment_id format").WithData("field", "provider_payment_id")
	}
	externalID := req.ProviderPaymentID

	var pay *model.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		pay, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		other, err := s.repo.FindByProviderID(ctx, provider, externalID)
		switch {
		case err == nil && other.ID != pay.ID:
			return apperrors.Conflict(apperrors.CodeProviderIDTaken, "provider payment id already linked").
				WithData("provider", provider)
		case err != nil && !apperrors.Is(err, apperrors.KindNotFound):
			return apperrors.Infrastructure(err, "failed to check provider id")
		}

		pay.Provider = &provider
		pay.ProviderPaymentID = &externalID
		if err := s.repo.Update(ctx, pay); err != nil {
			return err
		}
		md := map[string]interface{}{"provider": provider}
		return s.outbox.Stage(ctx,
			event.New(event.PaymentProviderLinked, p.Actor(), entityType, pay.ID, event.StatusOK, md),
			event.Record(p.Actor(), actionAttach, entityType, pay.ID, event.StatusOK, md),
		)
	})
	if err != nil {
		return nil, err
	}
	return pay, nil
}

// Remove hard deletes a payment. Admin only.
func (s *Service) Remove(ctx context.Context, p policy.Principal, id uuid.UUID) error {
	err := policy.RequireAdmin(p)
	if err == nil {
		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			pay, err := s.repo.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := s.repo.Delete(ctx, id); err != nil {
				return err
			}
			md := paymentMetadata(pay)
			md["status"] = string(pay.Status)
			return s.outbox.Stage(ctx,
				event.New(event.PaymentDeleted, p.Actor(), entityType, pay.ID, event.StatusOK, md),
				event.Record(p.Actor(), actionRemove, entityType, pay.ID, event.StatusOK, md),
			)
		})
	}
	if err != nil {
		s.fail(ctx, p, actionRemove, id, err, nil)
		return err
	}
	return nil
}

// FailPending moves every pending payment matching f to failed. Paid and
// refunded payments are never touched.
func (s *Service) FailPending(ctx context.Context, f model.PaymentFilter, cause string) (int, error) {
	var changed []*model.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		changed, err = s.repo.FailPending(ctx, f)
		if err != nil {
			return apperrors.Infrastructure(err, "failed to fail pending payments")
		}
		var evts []event.Event
		for _, pay := range changed {
			evts = append(evts, statusEvents(event.SystemActor, pay, model.PaymentStatusPending, cause, actionFailPending)...)
		}
		return s.outbox.Stage(ctx, evts...)
	})
	if err != nil {
		return 0, err
	}
	return len(changed), nil
}

func (s *Service) fail(ctx context.Context, p policy.Principal, action string, entityID interface{}, err error, extra map[string]interface{}) {
	event.Emit(ctx, s.bus, s.log, event.Failure(p.Actor(), action, entityType, entityID, err, extra))
}

// statusEvents is the generic change, the status specific event and the
// audit record for one transition.
func statusEvents(actor event.Actor, pay *model.Payment, from model.PaymentStatus, reason, action string) []event.Event {
	md := paymentMetadata(pay)
	md["from"] = string(from)
	md["to"] = string(pay.Status)
	if reason != "" {
		md["reason"] = reason
	}
	evts := []event.Event{
		event.New(event.PaymentStatusChanged, actor, entityType, pay.ID, event.StatusOK, md),
	}
	switch pay.Status {
	case model.PaymentStatusPaid:
		evts = append(evts, event.New(event.PaymentCompleted, actor, entityType, pay.ID, event.StatusOK, md))
	case model.PaymentStatusFailed:
		evts = append(evts, event.New(event.PaymentFailed, actor, entityType, pay.ID, event.StatusError, md))
	case model.PaymentStatusRefunded:
		evts = append(evts, event.New(event.PaymentRefunded, actor, entityType, pay.ID, event.StatusOK, md))
	}
	return append(evts, event.Record(actor, action, entityType, pay.ID, event.StatusOK, md))
}

func paymentMetadata(pay *model.Payment) map[string]interface{} {
	md := map[string]interface{}{
		"user_id":  pay.UserID.String(),
		"amount":   pay.Amount,
		"currency": pay.Currency,
		"method":   pay.Method,
	}
	if pay.AppointmentID != nil {
		md["appointment_id"] = pay.AppointmentID.String()
	}
	if pay.Provider != nil {
		md["provider"] = *pay.Provider
	}
	return md
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
