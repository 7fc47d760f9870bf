package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/repository"
	"github.com/jwalitptl/medbooking/internal/repository/memory"
	"github.com/jwalitptl/medbooking/internal/service/outbox"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/event"
	"github.com/jwalitptl/medbooking/pkg/worker"
)

type fixture struct {
	svc    *Service
	repos  repository.Repositories
	outbox *memory.OutboxRepository
	bus    *event.MemoryBus
	relay  *worker.OutboxRelay
	admin  policy.Principal
	doctor policy.Principal
	payer  policy.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	repos := memory.NewRepositories(store)
	ob := memory.NewOutboxRepository(store)
	bus := event.NewMemoryBus(nil)

	relay, err := worker.NewOutboxRelay(ob, bus, worker.OutboxRelayConfig{
		BatchSize:     50,
		PollInterval:  time.Second,
		RetryAttempts: 1,
		MaxRetries:    1,
		ClaimLease:    time.Minute,
	}, nil, nil)
	require.NoError(t, err)

	f := &fixture{
		repos:  repos,
		outbox: ob,
		bus:    bus,
		relay:  relay,
		admin:  policy.Principal{ID: uuid.New(), Role: policy.RoleAdmin},
		doctor: policy.Principal{ID: uuid.New(), Role: policy.RoleDoctor},
		payer:  policy.Principal{ID: uuid.New(), Role: policy.RolePatient},
	}
	f.svc = NewService(repos.Tx, repos.Payments, outbox.NewWriter(ob), bus, policy.New(), nil)
	f.svc.RegisterHandlers(bus)
	return f
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, f.relay.Drain(context.Background()))
}

func (f *fixture) pay(t *testing.T, appointmentID *uuid.UUID) *model.Payment {
	t.Helper()
	pay, err := f.svc.Create(context.Background(), f.payer, model.CreatePaymentRequest{
		UserID:        f.payer.ID,
		AppointmentID: appointmentID,
		Amount:        80,
		Method:        "card",
	})
	require.NoError(t, err)
	return pay
}

func (f *fixture) force(t *testing.T, pay *model.Payment, status model.PaymentStatus) {
	t.Helper()
	pay.Status = status
	require.NoError(t, f.repos.Payments.Update(context.Background(), pay))
}

func (f *fixture) stored(t *testing.T, id uuid.UUID) *model.Payment {
	t.Helper()
	pay, err := f.repos.Payments.Get(context.Background(), id)
	require.NoError(t, err)
	return pay
}

func TestCreateStagesEventsUntilRelayed(t *testing.T) {
	f := newFixture(t)
	appt := uuid.New()

	pay, err := f.svc.Create(context.Background(), f.payer, model.CreatePaymentRequest{
		UserID:        f.payer.ID,
		AppointmentID: &appt,
		Amount:        49.999,
		Currency:      "usd",
		Method:        " Card ",
		Provider:      "Stripe",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, pay.Status)
	assert.Equal(t, 50.0, pay.Amount)
	assert.Equal(t, "USD", pay.Currency)
	assert.Equal(t, "card", pay.Method)
	require.NotNil(t, pay.Provider)
	assert.Equal(t, "stripe", *pay.Provider)

	assert.Empty(t, f.bus.Published())
	assert.Len(t, f.outbox.Events(), 2)

	f.flush(t)
	created := f.bus.Named(event.PaymentCreated)
	require.Len(t, created, 1)
	assert.Equal(t, appt.String(), created[0].String("appointment_id"))
	assert.Len(t, f.bus.Named(event.LogsRecord), 1)
}

func TestCreateDefaultsCurrency(t *testing.T) {
	f := newFixture(t)
	pay := f.pay(t, nil)
	assert.Equal(t, model.DefaultCurrency, pay.Currency)
}

func TestCreateRejections(t *testing.T) {
	tests := []struct {
		name string
		req  func(f *fixture) model.CreatePaymentRequest
		kind apperrors.Kind
	}{
		{"zero amount", func(f *fixture) model.CreatePaymentRequest {
			return model.CreatePaymentRequest{UserID: f.payer.ID, Amount: 0, Method: "card"}
		}, apperrors.KindValidation},
		{"negative amount", func(f *fixture) model.CreatePaymentRequest {
			return model.CreatePaymentRequest{UserID: f.payer.ID, Amount: -3, Method: "card"}
		}, apperrors.KindValidation},
		{"unknown method", func(f *fixture) model.CreatePaymentRequest {
			return model.CreatePaymentRequest{UserID: f.payer.ID, Amount: 10, Method: "crypto"}
		}, apperrors.KindValidation},
		{"unknown provider", func(f *fixture) model.CreatePaymentRequest {
			return model.CreatePaymentRequest{UserID: f.payer.ID, Amount: 10, Method: "card", Provider: "acme"}
		}, apperrors.KindValidation},
		{"bad currency", func(f *fixture) model.CreatePaymentRequest {
			return model.CreatePaymentRequest{UserID: f.payer.ID, Amount: 10, Method: "card", Currency: "EURO"}
		}, apperrors.KindValidation},
		{"other user", func(f *fixture) model.CreatePaymentRequest {
			return model.CreatePaymentRequest{UserID: uuid.New(), Amount: 10, Method: "card"}
		}, apperrors.KindAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), f.payer, tt.req(f))
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
			assert.Empty(t, f.outbox.Events())

			records := f.bus.Named(event.LogsRecord)
			require.Len(t, records, 1)
			assert.Equal(t, event.StatusError, records[0].Status)
		})
	}
}

func TestOnePendingPaymentPerAppointment(t *testing.T) {
	f := newFixture(t)
	appt := uuid.New()
	first := f.pay(t, &appt)
	staged := len(f.outbox.Events())

	_, err := f.svc.Create(context.Background(), f.payer, model.CreatePaymentRequest{
		UserID: f.payer.ID, AppointmentID: &appt, Amount: 10, Method: "cash",
	})
	assert.Equal(t, apperrors.CodeDuplicatePending, apperrors.CodeOf(err))
	assert.Len(t, f.outbox.Events(), staged)

	_, err = f.svc.MarkPaid(context.Background(), f.doctor, first.ID)
	require.NoError(t, err)
	f.pay(t, &appt)
}

func TestTransitionGraph(t *testing.T) {
	statuses := []model.PaymentStatus{
		model.PaymentStatusPending,
		model.PaymentStatusPaid,
		model.PaymentStatusFailed,
		model.PaymentStatusRefunded,
	}
	allowed := map[[2]model.PaymentStatus]bool{
		{model.PaymentStatusPending, model.PaymentStatusPaid}:     true,
		{model.PaymentStatusPending, model.PaymentStatusFailed}:   true,
		{model.PaymentStatusPending, model.PaymentStatusRefunded}: true,
		{model.PaymentStatusPaid, model.PaymentStatusRefunded}:    true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			if from == to {
				continue
			}
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				f := newFixture(t)
				pay := f.pay(t, nil)
				f.force(t, pay, from)

				_, err := f.svc.UpdateStatus(context.Background(), f.admin, pay.ID, to, "")
				if allowed[[2]model.PaymentStatus{from, to}] {
					require.NoError(t, err)
					assert.Equal(t, to, f.stored(t, pay.ID).Status)
					return
				}
				assert.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))
				assert.Equal(t, from, f.stored(t, pay.ID).Status)
			})
		}
	}
}

func TestUpdateStatusSameStateIsNoop(t *testing.T) {
	f := newFixture(t)
	pay := f.pay(t, nil)
	f.flush(t)
	staged := len(f.outbox.Events())
	f.bus.Reset()

	got, err := f.svc.UpdateStatus(context.Background(), f.doctor, pay.ID, model.PaymentStatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, got.Status)
	assert.Len(t, f.outbox.Events(), staged)

	records := f.bus.Named(event.LogsRecord)
	require.Len(t, records, 1)
	assert.Equal(t, event.StatusWarning, records[0].Status)
}

func TestUpdateStatusRequiresManager(t *testing.T) {
	f := newFixture(t)
	pay := f.pay(t, nil)

	_, err := f.svc.MarkPaid(context.Background(), f.payer, pay.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))
	assert.Equal(t, model.PaymentStatusPending, f.stored(t, pay.ID).Status)
}

func TestMarkPaid(t *testing.T) {
	f := newFixture(t)
	appt := uuid.New()
	pay := f.pay(t, &appt)
	f.flush(t)
	f.bus.Reset()

	got, err := f.svc.MarkPaid(context.Background(), f.doctor, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, got.Status)
	assert.NotNil(t, got.PaidAt)

	f.flush(t)
	changed := f.bus.Named(event.PaymentStatusChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "pending", changed[0].String("from"))
	assert.Equal(t, "paid", changed[0].String("to"))

	completed := f.bus.Named(event.PaymentCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, appt.String(), completed[0].String("appointment_id"))
}

func TestRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pay := f.pay(t, nil)

	_, err := f.svc.Refund(ctx, f.admin, pay.ID, "duplicate")
	assert.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))

	_, err = f.svc.MarkPaid(ctx, f.admin, pay.ID)
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, f.doctor, pay.ID, "duplicate")
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	got, err := f.svc.Refund(ctx, f.admin, pay.ID, "duplicate")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusRefunded, got.Status)
	assert.Equal(t, "duplicate", got.Metadata["refund_reason"])
	assert.NotEmpty(t, got.Metadata["refunded_at"])

	f.flush(t)
	refunded := f.bus.Named(event.PaymentRefunded)
	require.Len(t, refunded, 1)
	assert.Equal(t, "duplicate", refunded[0].String("reason"))

	// already refunded
	_, err = f.svc.Refund(ctx, f.admin, pay.ID, "again")
	assert.NoError(t, err)
}

func TestAttachProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.pay(t, nil)
	second := f.pay(t, nil)

	_, err := f.svc.AttachProvider(ctx, f.admin, first.ID, model.AttachProviderRequest{Provider: "stripe", ProviderPaymentID: "pi 123"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.svc.AttachProvider(ctx, f.admin, first.ID, model.AttachProviderRequest{Provider: "test", ProviderPaymentID: "pi_123"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.svc.AttachProvider(ctx, f.payer, first.ID, model.AttachProviderRequest{Provider: "stripe", ProviderPaymentID: "pi_123"})
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	got, err := f.svc.AttachProvider(ctx, f.admin, first.ID, model.AttachProviderRequest{Provider: "Stripe", ProviderPaymentID: "pi_123"})
	require.NoError(t, err)
	assert.Equal(t, "stripe", *got.Provider)
	assert.Equal(t, "pi_123", *got.ProviderPaymentID)

	// relinking the same payment is fine, another payment is not
	_, err = f.svc.AttachProvider(ctx, f.admin, first.ID, model.AttachProviderRequest{Provider: "stripe", ProviderPaymentID: "pi_123"})
	assert.NoError(t, err)
	_, err = f.svc.AttachProvider(ctx, f.admin, second.ID, model.AttachProviderRequest{Provider: "stripe", ProviderPaymentID: "pi_123"})
	assert.Equal(t, apperrors.CodeProviderIDTaken, apperrors.CodeOf(err))

	_, err = f.svc.AttachProvider(ctx, f.admin, second.ID, model.AttachProviderRequest{Provider: "paypal", ProviderPaymentID: "pi_123"})
	assert.NoError(t, err)

	f.flush(t)
	assert.Len(t, f.bus.Named(event.PaymentProviderLinked), 3)
}

func TestListScopesToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.pay(t, nil)

	other := policy.Principal{ID: uuid.New(), Role: policy.RolePatient}
	_, err := f.svc.Create(ctx, other, model.CreatePaymentRequest{UserID: other.ID, Amount: 5, Method: "cash"})
	require.NoError(t, err)

	got, err := f.svc.List(ctx, f.payer, model.PaymentFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)

	_, err = f.svc.List(ctx, f.payer, model.PaymentFilter{UserID: &other.ID})
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	all, err := f.svc.List(ctx, f.admin, model.PaymentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.Get(ctx, other, mine.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pay := f.pay(t, nil)

	assert.True(t, apperrors.Is(f.svc.Remove(ctx, f.doctor, pay.ID), apperrors.KindAuthorization))
	require.NoError(t, f.svc.Remove(ctx, f.admin, pay.ID))

	_, err := f.repos.Payments.Get(ctx, pay.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	f.flush(t)
	assert.Len(t, f.bus.Named(event.PaymentDeleted), 1)
}
