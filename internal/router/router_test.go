package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medbooking/internal/app"
	"github.com/jwalitptl/medbooking/internal/middleware"
	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/repository"
	"github.com/jwalitptl/medbooking/internal/repository/memory"
	"github.com/jwalitptl/medbooking/internal/router"
	"github.com/jwalitptl/medbooking/pkg/auth"
	"github.com/jwalitptl/medbooking/pkg/event"
	"github.com/jwalitptl/medbooking/pkg/security"
	"github.com/jwalitptl/medbooking/pkg/validator"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := validator.Register(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type envelope struct {
	Status  string                 `json:"status"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Data    json.RawMessage        `json:"data"`
	Details map[string]interface{} `json:"details"`
}

type testAPI struct {
	t      *testing.T
	engine *gin.Engine
	repos  repository.Repositories
	bus    *event.MemoryBus
	hasher security.PasswordHasher
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	repos := memory.New()
	bus := event.NewMemoryBus(nil)
	hasher := security.NewBcryptHasher(4)

	svcs, err := app.NewServices(app.Deps{
		Repos:  repos,
		Bus:    bus,
		Tokens: auth.NewTokenManager("test-secret", "medbooking-test", time.Hour),
		Hasher: hasher,
	})
	require.NoError(t, err)
	svcs.RegisterHandlers(bus)

	reg := prometheus.NewRegistry()
	r := router.NewRouter(
		auth.NewTokenManager("test-secret", "medbooking-test", time.Hour),
		svcs.Handlers(nil, reg),
		router.RouterConfig{CORSConfig: middleware.DefaultCORSConfig(), Registerer: reg},
	)
	r.Setup()
	return &testAPI{t: t, engine: r.Engine(), repos: repos, bus: bus, hasher: hasher}
}

func (a *testAPI) do(method, path, token string, body interface{}) (int, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (a *testAPI) register(email, role string) uuid.UUID {
	a.t.Helper()
	status, env := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": email, "password": "correct-horse", "role": role,
	})
	require.Equal(a.t, http.StatusCreated, status, env.Message)
	var u model.User
	require.NoError(a.t, json.Unmarshal(env.Data, &u))
	return u.ID
}

func (a *testAPI) login(email string) string {
	a.t.Helper()
	status, env := a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": email, "password": "correct-horse",
	})
	require.Equal(a.t, http.StatusOK, status, env.Message)
	var tok model.TokenResponse
	require.NoError(a.t, json.Unmarshal(env.Data, &tok))
	assert.Equal(a.t, "Bearer", tok.TokenType)
	return tok.AccessToken
}

func (a *testAPI) admin() string {
	a.t.Helper()
	hash, err := a.hasher.Hash("correct-horse")
	require.NoError(a.t, err)
	require.NoError(a.t, a.repos.Users.Create(context.Background(), &model.User{
		Email: "admin@clinic.test", Role: "admin", PasswordHash: hash,
	}))
	return a.login("admin@clinic.test")
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	status, _ := api.do(http.MethodGet, "/api/v1/health/live", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = api.do(http.MethodGet, "/api/v1/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/metrics", nil)
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)

	status, env := api.do(http.MethodGet, "/api/v1/appointments/upcoming", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHENTICATED", env.Code)

	status, env = api.do(http.MethodGet, "/api/v1/appointments/upcoming", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_TOKEN", env.Code)
}

func TestRegisterValidation(t *testing.T) {
	api := newTestAPI(t)

	status, env := api.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "nope", "password": "short", "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_INPUT", env.Code)
	fields, ok := env.Details["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "email", fields["Email"])
	assert.Equal(t, "min", fields["Password"])
	assert.Equal(t, "oneof", fields["Role"])

	api.register("dup@clinic.test", "patient")
	status, env = api.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "dup@clinic.test", "password": "correct-horse", "role": "patient",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "EMAIL_TAKEN", env.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	api := newTestAPI(t)
	api.register("p@clinic.test", "patient")

	status, env := api.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "p@clinic.test", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Code)
}

func TestBookingFlow(t *testing.T) {
	api := newTestAPI(t)
	doctorID := api.register("doc@clinic.test", "doctor")
	patientID := api.register("pat@clinic.test", "patient")
	doctor := api.login("doc@clinic.test")
	patient := api.login("pat@clinic.test")

	at := time.Now().UTC().Add(48 * time.Hour).Truncate(24 * time.Hour).Add(10 * time.Hour)
	day := int(at.Weekday())

	status, env := api.do(http.MethodPost, "/api/v1/availability", doctor, map[string]interface{}{
		"doctor_id": doctorID, "day_of_week": day, "start_time": "09:00", "end_time": "17:00",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)

	status, env = api.do(http.MethodPost, "/api/v1/availability", doctor, map[string]interface{}{
		"doctor_id": doctorID, "day_of_week": day, "start_time": "9am", "end_time": "17:00",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "hhmm", env.Details["fields"].(map[string]interface{})["StartTime"])

	status, env = api.do(http.MethodGet,
		"/api/v1/availability/check?doctor_id="+doctorID.String()+"&at="+at.Format(time.RFC3339), patient, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.True(t, decode[model.SlotCheck](t, env.Data).Available)

	status, env = api.do(http.MethodPost, "/api/v1/appointments", patient, map[string]interface{}{
		"patient_id": patientID, "doctor_id": doctorID, "scheduled_at": at,
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	appt := decode[model.Appointment](t, env.Data)
	assert.Equal(t, model.AppointmentStatusRequested, appt.Status)

	// same doctor and instant
	status, env = api.do(http.MethodPost, "/api/v1/appointments", patient, map[string]interface{}{
		"patient_id": patientID, "doctor_id": doctorID, "scheduled_at": at,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "OVERBOOKING", env.Code)

	// patients cannot confirm
	status, _ = api.do(http.MethodPost, "/api/v1/appointments/"+appt.ID.String()+"/confirm", patient, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, env = api.do(http.MethodPost, "/api/v1/appointments/"+appt.ID.String()+"/confirm", doctor, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, model.AppointmentStatusConfirmed, decode[model.Appointment](t, env.Data).Status)

	status, env = api.do(http.MethodGet, "/api/v1/appointments/upcoming", patient, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]model.Appointment](t, env.Data), 1)

	status, env = api.do(http.MethodGet, "/api/v1/notifications", patient, nil)
	require.Equal(t, http.StatusOK, status)
	notes := decode[[]model.Notification](t, env.Data)
	require.NotEmpty(t, notes)

	status, env = api.do(http.MethodPost, "/api/v1/appointments/"+appt.ID.String()+"/cancel", patient,
		map[string]string{"reason": "feeling better"})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, model.AppointmentStatusCancelled, decode[model.Appointment](t, env.Data).Status)

	status, env = api.do(http.MethodPost, "/api/v1/appointments/"+appt.ID.String()+"/confirm", doctor, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", env.Code)
}

func TestAuditRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	api.register("pat@clinic.test", "patient")
	patient := api.login("pat@clinic.test")
	admin := api.admin()

	status, _ := api.do(http.MethodGet, "/api/v1/audit/logs", patient, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, env := api.do(http.MethodGet, "/api/v1/audit/logs?action=users.user.register", admin, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	entries := decode[[]model.AuditLogEntry](t, env.Data)
	require.Len(t, entries, 1)
	assert.Equal(t, "users.user.register", entries[0].Action)

	status, env = api.do(http.MethodGet, "/api/v1/audit/logs?actor_id=bad", admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_INPUT", env.Code)
}

func TestRequestIDAndSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil)
	req.Header.Set(middleware.HeaderXRequestID, "abc-123")
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(middleware.HeaderXRequestID))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "1.0", w.Header().Get("X-API-Version"))
}

func TestDeleteDoctorRemovesEachSlot(t *testing.T) {
	api := newTestAPI(t)
	doctorID := api.register("doc@clinic.test", "doctor")
	doctor := api.login("doc@clinic.test")
	admin := api.admin()

	for _, day := range []int{1, 3} {
		status, env := api.do(http.MethodPost, "/api/v1/availability", doctor, map[string]interface{}{
			"doctor_id": doctorID, "day_of_week": day, "start_time": "08:00", "end_time": "12:00",
		})
		require.Equal(t, http.StatusCreated, status, env.Message)
	}
	api.bus.Reset()

	status, env := api.do(http.MethodDelete, "/api/v1/users/"+doctorID.String(), admin, nil)
	require.Equal(t, http.StatusOK, status, env.Message)

	assert.Len(t, api.bus.Named(event.SlotDeleted), 2)

	status, env = api.do(http.MethodGet, "/api/v1/audit/logs?action=availability.slot.remove", admin, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Len(t, decode[[]model.AuditLogEntry](t, env.Data), 2)

	slots, err := api.repos.Availability.ListByDoctor(context.Background(), doctorID)
	require.NoError(t, err)
	assert.Empty(t, slots)
}
