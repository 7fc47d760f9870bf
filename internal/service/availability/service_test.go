package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/repository/memory"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/event"
)

func newTestService(t *testing.T) (*Service, *event.MemoryBus) {
	t.Helper()
	repos := memory.New()
	bus := event.NewMemoryBus(nil)
	return NewService(repos.Tx, repos.Availability, bus, policy.New(), nil), bus
}

func day(d int) *int { return &d }

func doctor() policy.Principal {
	return policy.Principal{ID: uuid.New(), Role: policy.RoleDoctor}
}

func TestNormalizeTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"8:00", "08:00", true},
		{"08:30", "08:30", true},
		{"23:59", "23:59", true},
		{"24:00", "", false},
		{"12:60", "", false},
		{"noon", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeTime(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestWindow(t *testing.T) {
	d, start, end := Window(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), model.AppointmentDuration)
	assert.Equal(t, int(time.Monday), d)
	assert.Equal(t, "09:00", start)
	assert.Equal(t, "09:30", end)

	_, _, end = Window(time.Date(2025, 3, 10, 23, 45, 0, 0, time.UTC), model.AppointmentDuration)
	assert.Equal(t, "24:00", end)
}

func TestCreateSlot(t *testing.T) {
	svc, bus := newTestService(t)
	ctx := context.Background()
	doc := doctor()

	slot, err := svc.CreateSlot(ctx, doc, model.CreateSlotRequest{DoctorID: doc.ID, DayOfWeek: day(1), StartTime: "8:00", EndTime: "12:00"})
	require.NoError(t, err)
	assert.Equal(t, "08:00", slot.StartTime)
	assert.Len(t, bus.Named(event.SlotCreated), 1)

	t.Run("duplicate is a no-op", func(t *testing.T) {
		bus.Reset()
		again, err := svc.CreateSlot(ctx, doc, model.CreateSlotRequest{DoctorID: doc.ID, DayOfWeek: day(1), StartTime: "08:00", EndTime: "12:00"})
		require.NoError(t, err)
		assert.Equal(t, slot.ID, again.ID)
		assert.Empty(t, bus.Published())
	})

	t.Run("overlap is a conflict", func(t *testing.T) {
		bus.Reset()
		_, err := svc.CreateSlot(ctx, doc, model.CreateSlotRequest{DoctorID: doc.ID, DayOfWeek: day(1), StartTime: "11:00", EndTime: "13:00"})
		assert.Equal(t, apperrors.CodeSlotOverlap, apperrors.CodeOf(err))
		records := bus.Named(event.LogsRecord)
		require.Len(t, records, 1)
		assert.Equal(t, event.StatusError, records[0].Status)
	})

	t.Run("adjacent window is allowed", func(t *testing.T) {
		_, err := svc.CreateSlot(ctx, doc, model.CreateSlotRequest{DoctorID: doc.ID, DayOfWeek: day(1), StartTime: "12:00", EndTime: "13:00"})
		assert.NoError(t, err)
	})

	t.Run("start must precede end", func(t *testing.T) {
		_, err := svc.CreateSlot(ctx, doc, model.CreateSlotRequest{DoctorID: doc.ID, DayOfWeek: day(2), StartTime: "10:00", EndTime: "10:00"})
		assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	})

	t.Run("other doctor is forbidden", func(t *testing.T) {
		_, err := svc.CreateSlot(ctx, doctor(), model.CreateSlotRequest{DoctorID: doc.ID, DayOfWeek: day(3), StartTime: "10:00", EndTime: "11:00"})
		assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))
	})
}

func TestCheckSlot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	doc := doctor()

	_, err := svc.CreateSlot(ctx, doc, model.CreateSlotRequest{DoctorID: doc.ID, DayOfWeek: day(int(time.Monday)), StartTime: "08:00", EndTime: "12:00"})
	require.NoError(t, err)

	monday := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	check, err := svc.CheckSlot(ctx, doc.ID, monday)
	require.NoError(t, err)
	assert.True(t, check.Available)
	assert.NotNil(t, check.SlotID)

	check, err = svc.CheckSlot(ctx, doc.ID, monday.Add(2*time.Hour+45*time.Minute))
	require.NoError(t, err)
	assert.False(t, check.Available, "11:45 visit runs past the window end")

	check, err = svc.CheckSlot(ctx, doc.ID, monday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, check.Available)
}

func TestUpdateSlot(t *testing.T) {
	svc, bus := newTestService(t)
	ctx := context.Background()
	doc := doctor()

	slot, err := svc.CreateSlot(ctx, doc, model.CreateSlotRequest{DoctorID: doc.ID, DayOfWeek: day(1), StartTime: "08:00", EndTime: "10:00"})
	require.NoError(t, err)
	_, err = svc.CreateSlot(ctx, doc, model.CreateSlotRequest{DoctorID: doc.ID, DayOfWeek: day(1), StartTime: "14:00", EndTime: "16:00"})
	require.NoError(t, err)
	bus.Reset()

	same := "08:00"
	_, err = svc.UpdateSlot(ctx, doc, slot.ID, model.UpdateSlotRequest{StartTime: &same})
	require.NoError(t, err)
	assert.Empty(t, bus.Published())

	clash := "15:00"
	_, err = svc.UpdateSlot(ctx, doc, slot.ID, model.UpdateSlotRequest{EndTime: &clash})
	assert.Equal(t, apperrors.CodeSlotOverlap, apperrors.CodeOf(err))

	later := "11:00"
	updated, err := svc.UpdateSlot(ctx, doc, slot.ID, model.UpdateSlotRequest{EndTime: &later})
	require.NoError(t, err)
	assert.Equal(t, "11:00", updated.EndTime)

	evts := bus.Named(event.SlotUpdated)
	require.Len(t, evts, 1)
	assert.Equal(t, "10:00", evts[0].Map("prev")["end_time"])
	assert.Equal(t, "11:00", evts[0].Map("next")["end_time"])
}

func TestRemoveSlot(t *testing.T) {
	svc, bus := newTestService(t)
	ctx := context.Background()
	doc := doctor()

	slot, err := svc.CreateSlot(ctx, doc, model.CreateSlotRequest{DoctorID: doc.ID, DayOfWeek: day(1), StartTime: "08:00", EndTime: "12:00"})
	require.NoError(t, err)

	err = svc.RemoveSlot(ctx, doctor(), slot.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	require.NoError(t, svc.RemoveSlot(ctx, doc, slot.ID))
	evts := bus.Named(event.SlotDeleted)
	require.Len(t, evts, 1)
	assert.Equal(t, doc.ID, evts[0].UUID("doctor_id"))
	assert.Equal(t, "08:00", evts[0].String("start_time"))

	err = svc.RemoveSlot(ctx, doc, slot.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestRoleChangeRemovesDoctorSlots(t *testing.T) {
	svc, bus := newTestService(t)
	svc.RegisterHandlers(bus)
	ctx := context.Background()
	doc := doctor()

	for _, d := range []int{1, 2, 3} {
		_, err := svc.CreateSlot(ctx, doc, model.CreateSlotRequest{DoctorID: doc.ID, DayOfWeek: day(d), StartTime: "08:00", EndTime: "12:00"})
		require.NoError(t, err)
	}

	require.NoError(t, bus.Publish(ctx, event.New(event.UserRoleChanged, event.SystemActor, "user", doc.ID, event.StatusOK,
		map[string]interface{}{"from": "doctor", "to": "patient"})))

	slots, err := svc.ListByDoctor(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.Len(t, bus.Named(event.SlotDeleted), 3)
}

func TestUserDeletedIgnoresPatients(t *testing.T) {
	svc, bus := newTestService(t)
	svc.RegisterHandlers(bus)
	ctx := context.Background()
	doc := doctor()

	_, err := svc.CreateSlot(ctx, doc, model.CreateSlotRequest{DoctorID: doc.ID, DayOfWeek: day(1), StartTime: "08:00", EndTime: "12:00"})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, event.New(event.UserDeleted, event.SystemActor, "user", doc.ID, event.StatusOK,
		map[string]interface{}{"role": "patient"})))
	slots, _ := svc.ListByDoctor(ctx, doc.ID)
	assert.Len(t, slots, 1)

	require.NoError(t, bus.Publish(ctx, event.New(event.UserDeleted, event.SystemActor, "user", doc.ID, event.StatusOK,
		map[string]interface{}{"role": "doctor"})))
	slots, _ = svc.ListByDoctor(ctx, doc.ID)
	assert.Empty(t, slots)
}
