package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/repository"
	"github.com/jwalitptl/medbooking/internal/repository/memory"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/event"
	"github.com/jwalitptl/medbooking/pkg/security"
)

type fixture struct {
	svc     *Service
	repos   repository.Repositories
	bus     *event.MemoryBus
	appt    *model.Appointment
	doctor  policy.Principal
	patient policy.Principal
	admin   policy.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := memory.New()
	bus := event.NewMemoryBus(nil)
	enc, err := security.NewAESEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	f := &fixture{
		repos:   repos,
		bus:     bus,
		doctor:  policy.Principal{ID: uuid.New(), Role: policy.RoleDoctor},
		patient: policy.Principal{ID: uuid.New(), Role: policy.RolePatient},
		admin:   policy.Principal{ID: uuid.New(), Role: policy.RoleAdmin},
	}
	f.appt = &model.Appointment{
		PatientID:   f.patient.ID,
		DoctorID:    f.doctor.ID,
		ScheduledAt: time.Now().Add(24 * time.Hour).UTC(),
		Status:      model.AppointmentStatusConfirmed,
	}
	require.NoError(t, repos.Appointments.Create(context.Background(), f.appt))

	f.svc = NewService(repos.Tx, repos.Reports, repos.Appointments, bus, policy.New(), enc, nil)
	f.svc.RegisterHandlers(bus)
	return f
}

func (f *fixture) doctorReport(t *testing.T, visibleToPatient *bool) *model.Report {
	t.Helper()
	rep, err := f.svc.CreateByDoctor(context.Background(), f.doctor, model.CreateReportRequest{
		AppointmentID:    f.appt.ID,
		Title:            "Blood panel",
		Notes:            "LDL slightly elevated",
		ReportURL:        "https://files.example.com/r/1.pdf",
		VisibleToPatient: visibleToPatient,
	})
	require.NoError(t, err)
	return rep
}

func TestCreateByDoctor(t *testing.T) {
	f := newFixture(t)
	rep := f.doctorReport(t, nil)

	assert.Equal(t, "doctor", rep.AuthorRole)
	assert.True(t, rep.VisibleToPatient)
	assert.True(t, rep.VisibleToDoctor)
	assert.Equal(t, "LDL slightly elevated", rep.Notes)

	stored, err := f.repos.Reports.Get(context.Background(), rep.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.Notes, "enc:"))

	published := f.bus.Named(event.ReportPublished)
	require.Len(t, published, 1)
	assert.Equal(t, f.patient.ID.String(), published[0].String("patient_id"))
}

func TestCreateRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := model.CreateReportRequest{AppointmentID: f.appt.ID, ReportURL: "https://files.example.com/x"}

	_, err := f.svc.CreateByDoctor(ctx, policy.Principal{ID: uuid.New(), Role: policy.RoleDoctor}, req)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	_, err = f.svc.CreateByDoctor(ctx, f.patient, req)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	_, err = f.svc.CreateByPatient(ctx, f.patient, req)
	assert.NoError(t, err)

	_, err = f.svc.CreateByDoctor(ctx, f.doctor, model.CreateReportRequest{AppointmentID: uuid.New(), ReportURL: "https://x"})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestVisibilityFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hidden := false
	private := f.doctorReport(t, &hidden)
	public := f.doctorReport(t, nil)

	forPatient, err := f.svc.ListByAppointment(ctx, f.patient, f.appt.ID)
	require.NoError(t, err)
	require.Len(t, forPatient, 1)
	assert.Equal(t, public.ID, forPatient[0].ID)

	_, err = f.svc.Get(ctx, f.patient, private.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	forDoctor, err := f.svc.ListByAppointment(ctx, f.doctor, f.appt.ID)
	require.NoError(t, err)
	assert.Len(t, forDoctor, 2)

	_, err = f.svc.ListByAppointment(ctx, policy.Principal{ID: uuid.New(), Role: policy.RolePatient}, f.appt.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))
}

func TestUpdateVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rep := f.doctorReport(t, nil)
	off := false

	_, err := f.svc.UpdateVisibility(ctx, f.patient, rep.ID, model.UpdateVisibilityRequest{VisibleToPatient: &off})
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	f.bus.Reset()
	got, err := f.svc.UpdateVisibility(ctx, f.doctor, rep.ID, model.UpdateVisibilityRequest{VisibleToPatient: &off})
	require.NoError(t, err)
	assert.False(t, got.VisibleToPatient)
	assert.True(t, got.VisibleToDoctor)
	assert.Equal(t, "LDL slightly elevated", got.Notes)

	changed := f.bus.Named(event.ReportVisibilityChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, true, changed[0].Map("from")["visible_to_patient"])
	assert.Equal(t, false, changed[0].Map("to")["visible_to_patient"])

	// same values again
	f.bus.Reset()
	_, err = f.svc.UpdateVisibility(ctx, f.admin, rep.ID, model.UpdateVisibilityRequest{VisibleToPatient: &off})
	require.NoError(t, err)
	assert.Empty(t, f.bus.Published())
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rep := f.doctorReport(t, nil)

	assert.True(t, apperrors.Is(f.svc.Remove(ctx, f.patient, rep.ID), apperrors.KindAuthorization))
	require.NoError(t, f.svc.Remove(ctx, f.doctor, rep.ID))
	assert.Len(t, f.bus.Named(event.ReportDeleted), 1)

	_, err := f.repos.Reports.Get(ctx, rep.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestCancelledAppointmentHidesFromPatientOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rep := f.doctorReport(t, nil)

	evt := event.New(event.AppointmentStatusChanged, event.SystemActor, "appointment", f.appt.ID, event.StatusOK, map[string]interface{}{
		"from": "confirmed", "to": "cancelled", "reason": "slot_deleted",
	})
	require.NoError(t, f.bus.Publish(ctx, evt))

	stored, err := f.repos.Reports.Get(ctx, rep.ID)
	require.NoError(t, err)
	assert.False(t, stored.VisibleToPatient)
	assert.True(t, stored.VisibleToDoctor)

	// redelivery is harmless
	require.NoError(t, f.bus.Publish(ctx, evt))
	stored, err = f.repos.Reports.Get(ctx, rep.ID)
	require.NoError(t, err)
	assert.False(t, stored.VisibleToPatient)
}

func TestConfirmedAppointmentLeavesReports(t *testing.T) {
	f := newFixture(t)
	rep := f.doctorReport(t, nil)

	evt := event.New(event.AppointmentStatusChanged, event.SystemActor, "appointment", f.appt.ID, event.StatusOK, map[string]interface{}{
		"from": "requested", "to": "confirmed",
	})
	require.NoError(t, f.bus.Publish(context.Background(), evt))

	stored, err := f.repos.Reports.Get(context.Background(), rep.ID)
	require.NoError(t, err)
	assert.True(t, stored.VisibleToPatient)
}

func TestAppointmentDeletedRemovesReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rep := f.doctorReport(t, nil)

	evt := event.New(event.AppointmentDeleted, event.SystemActor, "appointment", f.appt.ID, event.StatusOK, nil)
	require.NoError(t, f.bus.Publish(ctx, evt))

	_, err := f.repos.Reports.Get(ctx, rep.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestUserDeletedHidesAuthoredReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rep := f.doctorReport(t, nil)

	evt := event.New(event.UserDeleted, event.SystemActor, "user", f.doctor.ID, event.StatusOK, map[string]interface{}{"role": "doctor"})
	require.NoError(t, f.bus.Publish(ctx, evt))

	stored, err := f.repos.Reports.Get(ctx, rep.ID)
	require.NoError(t, err)
	assert.False(t, stored.VisibleToPatient)
	assert.True(t, stored.VisibleToDoctor)
}
