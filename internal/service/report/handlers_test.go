package report

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/repository"
	"github.com/jwalitptl/medbooking/internal/repository/memory"
	"github.com/jwalitptl/medbooking/pkg/event"
)

type brokenReports struct {
	repository.ReportRepository
}

func (brokenReports) HideFromPatientByAppointment(context.Context, uuid.UUID) (int64, error) {
	return 0, errors.New("store down")
}

func auditEntries(bus *event.MemoryBus, action string) []event.Event {
	var out []event.Event
	for _, evt := range bus.Named(event.LogsRecord) {
		if evt.Action == action {
			out = append(out, evt)
		}
	}
	return out
}

func TestReactiveFailureIsAudited(t *testing.T) {
	repos := memory.New()
	bus := event.NewMemoryBus(nil)
	svc := NewService(repos.Tx, brokenReports{repos.Reports}, repos.Appointments, bus, policy.New(), nil, nil)
	svc.RegisterHandlers(bus)

	appt := uuid.New()
	changed := event.New(event.AppointmentStatusChanged, event.SystemActor, "appointment", appt, event.StatusOK, map[string]interface{}{
		"from": "confirmed", "to": "cancelled",
	})
	require.NoError(t, bus.Publish(context.Background(), changed))

	entries := auditEntries(bus, actionHideForCancelled)
	require.Len(t, entries, 1)
	assert.Equal(t, event.StatusError, entries[0].Status)
	assert.Equal(t, "system", entries[0].Actor.Role)
	assert.Equal(t, appt.String(), entries[0].String("appointment_id"))
	assert.Equal(t, "store down", entries[0].String("message"))
}

func TestReactiveChangeIsAudited(t *testing.T) {
	f := newFixture(t)
	f.doctorReport(t, nil)
	f.doctorReport(t, nil)
	f.bus.Reset()

	changed := event.New(event.AppointmentStatusChanged, event.SystemActor, "appointment", f.appt.ID, event.StatusOK, map[string]interface{}{
		"from": "confirmed", "to": "cancelled",
	})
	require.NoError(t, f.bus.Publish(context.Background(), changed))

	entries := auditEntries(f.bus, actionHideForCancelled)
	require.Len(t, entries, 1)
	assert.Equal(t, event.StatusOK, entries[0].Status)
	assert.EqualValues(t, 2, entries[0].Metadata["affected"])

	// nothing left to hide, nothing recorded
	f.bus.Reset()
	require.NoError(t, f.bus.Publish(context.Background(), changed))
	assert.Empty(t, auditEntries(f.bus, actionHideForCancelled))
}
