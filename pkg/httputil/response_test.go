package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.Invalid("bad"), http.StatusBadRequest},
		{apperrors.Forbidden("no"), http.StatusForbidden},
		{apperrors.Unauthenticated(apperrors.CodeInvalidToken, "expired"), http.StatusUnauthorized},
		{apperrors.NotFound("appointment", 1), http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", apperrors.Conflict(apperrors.CodeOverbooking, "taken")), http.StatusConflict},
		{apperrors.Infrastructure(errors.New("db"), "down"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), tt.err.Error())
	}
}

func TestErrorEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, apperrors.Conflict(apperrors.CodeOverbooking, "slot taken").WithData("doctor_id", "d1"))

	require.Equal(t, http.StatusConflict, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, apperrors.CodeOverbooking, resp.Code)
	assert.Equal(t, "slot taken", resp.Message)
	assert.Equal(t, "d1", resp.Details["doctor_id"])
}

func TestErrorHidesInfrastructureDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
	assert.Len(t, c.Errors, 1)
}
