package audit

import (
	"context"
	"errors"
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

var admin = policy.Principal{ID: uuid.New(), Role: policy.RoleAdmin}

func TestRedact(t *testing.T) {
	in := map[string]interface{}{
		"email": "a@example.com",
		"user": map[string]interface{}{
			"Password": "hunter2",
			"name":     "Ada",
			"nested":   map[string]interface{}{"refresh_token": "r", "keep": 1},
		},
		"items":  []interface{}{map[string]interface{}{"secret": "s", "id": 7}},
		"token":  "t",
		"tokens": 3,
	}
	out := Redact(in)

	assert.Equal(t, "a@example.com", out["email"])
	assert.Equal(t, Mask, out["token"])
	assert.Equal(t, 3, out["tokens"])
	user := out["user"].(map[string]interface{})
	assert.Equal(t, Mask, user["Password"])
	assert.Equal(t, "Ada", user["name"])
	nested := user["nested"].(map[string]interface{})
	assert.Equal(t, Mask, nested["refresh_token"])
	assert.Equal(t, 1, nested["keep"])
	item := out["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, Mask, item["secret"])
	assert.Equal(t, 7, item["id"])

	// input untouched
	assert.Equal(t, "hunter2", in["user"].(map[string]interface{})["Password"])
	assert.Nil(t, Redact(nil))
}

func TestSinkPersistsRedactedRecords(t *testing.T) {
	repos := memory.New()
	bus := event.NewMemoryBus(nil)
	svc := NewService(repos.Audit, bus, nil)
	svc.RegisterHandlers(bus)

	actor := uuid.New()
	require.NoError(t, bus.Publish(context.Background(), event.Record(
		event.Actor{ID: &actor, Role: "patient"}, "users.user.login", "user", actor, event.StatusOK,
		map[string]interface{}{"password": "x", "ip": "10.0.0.1"},
	)))

	entries, err := svc.List(context.Background(), admin, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "users.user.login", e.Action)
	assert.Equal(t, "patient", e.ActorRole)
	assert.Equal(t, actor, *e.ActorID)
	assert.Equal(t, "ok", e.Status)
	assert.Equal(t, Mask, e.Metadata["password"])
	assert.Equal(t, "10.0.0.1", e.Metadata["ip"])
}

type failingRepo struct {
	*memory.AuditRepository
}

func (failingRepo) Create(context.Context, *model.AuditLogEntry) error {
	return errors.New("db down")
}

func TestSinkFailureEmitsErrorEvent(t *testing.T) {
	repos := memory.New()
	bus := event.NewMemoryBus(nil)
	svc := NewService(failingRepo{repos.Audit.(*memory.AuditRepository)}, bus, nil)
	svc.RegisterHandlers(bus)

	err := bus.Publish(context.Background(), event.Record(event.SystemActor, "x.y", "thing", nil, event.StatusOK, nil))
	require.NoError(t, err)

	errs := bus.Named(event.LogsRecordError)
	require.Len(t, errs, 1)
	assert.Equal(t, "x.y", errs[0].String("original_action"))
	assert.Equal(t, "db down", errs[0].String("message"))
}

func TestAdminOperations(t *testing.T) {
	repos := memory.New()
	svc := NewService(repos.Audit, event.NewMemoryBus(nil), nil)
	ctx := context.Background()
	patient := policy.Principal{ID: uuid.New(), Role: policy.RolePatient}

	old := event.Record(event.SystemActor, "a", "t", nil, event.StatusOK, nil)
	old.OccurredAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, svc.Record(ctx, old))
	require.NoError(t, svc.Record(ctx, event.Record(event.SystemActor, "a", "t", nil, event.StatusError, nil)))
	require.NoError(t, svc.Record(ctx, event.Record(event.SystemActor, "b", "t", nil, event.StatusOK, nil)))

	_, err := svc.List(ctx, patient, model.AuditFilter{})
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	stats, err := svc.Stats(ctx, admin, "")
	require.NoError(t, err)
	assert.Equal(t, []model.AuditStat{{Key: "a", Count: 2}, {Key: "b", Count: 1}}, stats)

	stats, err = svc.Stats(ctx, admin, "status")
	require.NoError(t, err)
	assert.Equal(t, []model.AuditStat{{Key: "ok", Count: 2}, {Key: "error", Count: 1}}, stats)

	_, err = svc.Stats(ctx, admin, "actor")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = svc.Purge(ctx, patient, time.Now())
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))

	n, err := svc.Purge(ctx, admin, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := svc.List(ctx, admin, model.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, left, 2)
}
