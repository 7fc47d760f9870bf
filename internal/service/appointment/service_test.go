package appointment

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
	"github.com/jwalitptl/medbooking/internal/service/availability"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/event"
)

var (
	now    = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)  // Saturday
	monday = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) // inside the 08:00-12:00 window
)

type harness struct {
	svc     *Service
	slots   *availability.Service
	bus     *event.MemoryBus
	repos   repository.Repositories
	doctor  policy.Principal
	patient policy.Principal
	admin   policy.Principal
	slotID  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repos := memory.New()
	bus := event.NewMemoryBus(nil)
	pol := policy.New()

	h := &harness{
		repos:   repos,
		bus:     bus,
		slots:   availability.NewService(repos.Tx, repos.Availability, bus, pol, nil),
		doctor:  policy.Principal{ID: uuid.New(), Role: policy.RoleDoctor},
		patient: policy.Principal{ID: uuid.New(), Role: policy.RolePatient},
		admin:   policy.Principal{ID: uuid.New(), Role: policy.RoleAdmin},
	}
	h.svc = NewService(repos.Tx, repos.Appointments, h.slots, bus, pol, nil,
		WithClock(func() time.Time { return now }))

	day := int(time.Monday)
	slot, err := h.slots.CreateSlot(context.Background(), h.doctor, model.CreateSlotRequest{
		DoctorID: h.doctor.ID, DayOfWeek: &day, StartTime: "08:00", EndTime: "12:00",
	})
	require.NoError(t, err)
	h.slotID = slot.ID
	bus.Reset()
	return h
}

func (h *harness) book(t *testing.T, at time.Time) *model.Appointment {
	t.Helper()
	appt, err := h.svc.Create(context.Background(), h.patient, model.CreateAppointmentRequest{
		PatientID: h.patient.ID, DoctorID: h.doctor.ID, ScheduledAt: at,
	})
	require.NoError(t, err)
	return appt
}

func (h *harness) force(t *testing.T, appt *model.Appointment, status model.AppointmentStatus) {
	t.Helper()
	appt.Status = status
	require.NoError(t, h.repos.Appointments.Update(context.Background(), appt))
}

func records(bus *event.MemoryBus, status event.Status) []event.Event {
	var out []event.Event
	for _, evt := range bus.Named(event.LogsRecord) {
		if evt.Status == status {
			out = append(out, evt)
		}
	}
	return out
}

func TestCreate(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, monday)

	assert.Equal(t, model.AppointmentStatusRequested, appt.Status)
	assert.Len(t, h.bus.Named(event.AppointmentCreated), 1)

	changed := h.bus.Named(event.AppointmentStatusChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "", changed[0].String("from"))
	assert.Equal(t, "requested", changed[0].String("to"))
	assert.Len(t, records(h.bus, event.StatusOK), 1)
}

func TestCreateRejections(t *testing.T) {
	tests := []struct {
		name string
		p    func(h *harness) policy.Principal
		at   time.Time
		code string
		kind apperrors.Kind
	}{
		{"past instant", func(h *harness) policy.Principal { return h.patient }, now.Add(-time.Hour), apperrors.CodeNotInFuture, apperrors.KindValidation},
		{"evaluation instant", func(h *harness) policy.Principal { return h.patient }, now, apperrors.CodeNotInFuture, apperrors.KindValidation},
		{"outside window", func(h *harness) policy.Principal { return h.patient }, monday.Add(4 * time.Hour), apperrors.CodeNoAvailability, apperrors.KindValidation},
		{"window end overrun", func(h *harness) policy.Principal { return h.patient }, monday.Add(2*time.Hour + 45*time.Minute), apperrors.CodeNoAvailability, apperrors.KindValidation},
		{"other patient", func(h *harness) policy.Principal { return policy.Principal{ID: uuid.New(), Role: policy.RolePatient} }, monday, apperrors.CodeForbidden, apperrors.KindAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.Create(context.Background(), tt.p(h), model.CreateAppointmentRequest{
				PatientID: h.patient.ID, DoctorID: h.doctor.ID, ScheduledAt: tt.at,
			})
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
			assert.Equal(t, tt.kind, apperrors.KindOf(err))

			// failures only leave an audit entry
			assert.Empty(t, h.bus.Named(event.AppointmentCreated))
			assert.Len(t, records(h.bus, event.StatusError), 1)
		})
	}
}

func TestCreateOverbooking(t *testing.T) {
	h := newHarness(t)
	first := h.book(t, monday)

	other := policy.Principal{ID: uuid.New(), Role: policy.RolePatient}
	_, err := h.svc.Create(context.Background(), other, model.CreateAppointmentRequest{
		PatientID: other.ID, DoctorID: h.doctor.ID, ScheduledAt: monday,
	})
	assert.Equal(t, apperrors.CodeOverbooking, apperrors.CodeOf(err))
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))

	stored, err := h.repos.Appointments.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusRequested, stored.Status)
	assert.Equal(t, first.PatientID, stored.PatientID)

	// a cancelled booking frees the pair
	_, err = h.svc.Cancel(context.Background(), h.patient, first.ID, "")
	require.NoError(t, err)
	_, err = h.svc.Create(context.Background(), other, model.CreateAppointmentRequest{
		PatientID: other.ID, DoctorID: h.doctor.ID, ScheduledAt: monday,
	})
	assert.NoError(t, err)
}

func TestTransitionGraph(t *testing.T) {
	statuses := []model.AppointmentStatus{
		model.AppointmentStatusRequested,
		model.AppointmentStatusConfirmed,
		model.AppointmentStatusCancelled,
		model.AppointmentStatusCompleted,
	}
	allowed := map[[2]model.AppointmentStatus]bool{
		{model.AppointmentStatusRequested, model.AppointmentStatusConfirmed}: true,
		{model.AppointmentStatusRequested, model.AppointmentStatusCancelled}: true,
		{model.AppointmentStatusConfirmed, model.AppointmentStatusCompleted}: true,
		{model.AppointmentStatusConfirmed, model.AppointmentStatusCancelled}: true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			if from == to {
				continue
			}
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				h := newHarness(t)
				appt := h.book(t, monday)
				h.force(t, appt, from)
				h.bus.Reset()

				for _, p := range []policy.Principal{h.admin, h.doctor, h.patient} {
					_, err := h.svc.SetStatus(context.Background(), p, appt.ID, to, "")
					if !allowed[[2]model.AppointmentStatus{from, to}] {
						require.Error(t, err, "role %s", p.Role)
						if p.IsAdmin() {
							assert.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))
						}
					}
				}

				stored, err := h.repos.Appointments.Get(context.Background(), appt.ID)
				require.NoError(t, err)
				if allowed[[2]model.AppointmentStatus{from, to}] {
					assert.Equal(t, to, stored.Status)
				} else {
					assert.Equal(t, from, stored.Status)
					assert.Empty(t, h.bus.Named(event.AppointmentStatusChanged))
				}
			})
		}
	}
}

func TestSetStatusSameStateIsNoop(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, monday)
	h.bus.Reset()

	got, err := h.svc.SetStatus(context.Background(), h.doctor, appt.ID, model.AppointmentStatusRequested, "")
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)
	assert.Equal(t, model.AppointmentStatusRequested, got.Status)
	assert.Empty(t, h.bus.Published())
}

func TestConfirmAuthorization(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, monday)

	_, err := h.svc.Confirm(context.Background(), h.patient, appt.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	_, err = h.svc.Confirm(context.Background(), policy.Principal{ID: uuid.New(), Role: policy.RoleDoctor}, appt.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	h.bus.Reset()
	got, err := h.svc.Confirm(context.Background(), h.doctor, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, got.Status)

	changed := h.bus.Named(event.AppointmentStatusChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "requested", changed[0].String("from"))
	assert.Equal(t, "confirmed", changed[0].String("to"))
	assert.Len(t, h.bus.Named(event.AppointmentConfirmed), 1)
}

func TestConfirmRechecksTime(t *testing.T) {
	h := newHarness(t)
	appt := h.book(t, monday)

	late := NewService(h.repos.Tx, h.repos.Appointments, h.slots, h.bus, policy.New(), nil,
		WithClock(func() time.Time { return monday.Add(time.Minute) }))
	_, err := late.Confirm(context.Background(), h.doctor, appt.ID)
	assert.Equal(t, apperrors.CodeNotInFuture, apperrors.CodeOf(err))

	require.NoError(t, h.slots.RemoveSlot(context.Background(), h.admin, h.slotID))
	_, err = h.svc.Confirm(context.Background(), h.doctor, appt.ID)
	assert.Error(t, err)
}

func TestReschedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt := h.book(t, monday)
	h.bus.Reset()

	got, err := h.svc.Reschedule(ctx, h.patient, appt.ID, monday, "")
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)
	assert.Empty(t, h.bus.Published())

	target := monday.Add(time.Hour)
	got, err = h.svc.Reschedule(ctx, h.patient, appt.ID, target, "")
	require.NoError(t, err)
	assert.True(t, got.ScheduledAt.Equal(target))
	assert.Equal(t, model.AppointmentStatusRequested, got.Status)

	evts := h.bus.Named(event.AppointmentRescheduled)
	require.Len(t, evts, 1)
	assert.Equal(t, event.FormatTime(monday), evts[0].String("from"))
	assert.Equal(t, event.FormatTime(target), evts[0].String("to"))

	_, err = h.svc.Reschedule(ctx, h.patient, appt.ID, monday.Add(5*time.Hour), "")
	assert.Equal(t, apperrors.CodeNoAvailability, apperrors.CodeOf(err))

	_, err = h.svc.Reschedule(ctx, h.patient, appt.ID, now.Add(-time.Minute), "")
	assert.Equal(t, apperrors.CodeNotInFuture, apperrors.CodeOf(err))

	// the slot held by another booking is an overbooking
	other := h.book(t, monday)
	_, err = h.svc.Reschedule(ctx, h.patient, other.ID, target, "")
	assert.Equal(t, apperrors.CodeOverbooking, apperrors.CodeOf(err))

	_, err = h.svc.Cancel(ctx, h.patient, appt.ID, "")
	require.NoError(t, err)
	_, err = h.svc.Reschedule(ctx, h.patient, appt.ID, monday.Add(30*time.Minute), "")
	assert.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))
}

func TestRemoveIsAdminOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt := h.book(t, monday)

	err := h.svc.Remove(ctx, h.doctor, appt.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	h.bus.Reset()
	require.NoError(t, h.svc.Remove(ctx, h.admin, appt.ID))
	deleted := h.bus.Named(event.AppointmentDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, appt.ID.String(), deleted[0].EntityID)

	_, err = h.repos.Appointments.Get(ctx, appt.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestListUpcomingAndPast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	next := h.book(t, monday.Add(7*24*time.Hour))
	soon := h.book(t, monday)

	past := &model.Appointment{
		PatientID:   h.patient.ID,
		DoctorID:    h.doctor.ID,
		ScheduledAt: now.Add(-48 * time.Hour),
		Status:      model.AppointmentStatusCompleted,
	}
	require.NoError(t, h.repos.Appointments.Create(ctx, past))

	upcoming, err := h.svc.ListUpcoming(ctx, h.patient, uuid.Nil, "")
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, soon.ID, upcoming[0].ID)
	assert.Equal(t, next.ID, upcoming[1].ID)

	prior, err := h.svc.ListPast(ctx, h.doctor, h.doctor.ID, policy.RoleDoctor)
	require.NoError(t, err)
	require.Len(t, prior, 1)
	assert.Equal(t, past.ID, prior[0].ID)

	_, err = h.svc.ListUpcoming(ctx, h.patient, h.doctor.ID, policy.RoleDoctor)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))
}
