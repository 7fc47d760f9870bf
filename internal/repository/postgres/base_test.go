package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind apperrors.Kind
		code string
	}{
		{
			name: "active booking clash",
			err:  &pq.Error{Code: "23505", Constraint: "appointments_doctor_active_slot_idx"},
			kind: apperrors.KindConflict,
			code: apperrors.CodeOverbooking,
		},
		{
			name: "second pending payment",
			err:  fmt.Errorf("exec: %w", &pq.Error{Code: "23505", Constraint: "payments_one_pending_idx"}),
			kind: apperrors.KindConflict,
			code: apperrors.CodeDuplicatePending,
		},
		{
			name: "provider id reused",
			err:  &pq.Error{Code: "23505", Constraint: "payments_provider_payment_idx"},
			kind: apperrors.KindConflict,
			code: apperrors.CodeProviderIDTaken,
		},
		{
			name: "email taken",
			err:  &pq.Error{Code: "23505", Constraint: "users_email_key"},
			kind: apperrors.KindConflict,
			code: apperrors.CodeEmailTaken,
		},
		{
			name: "unknown constraint",
			err:  &pq.Error{Code: "23505", Constraint: "something_else"},
			kind: apperrors.KindConflict,
			code: "DUPLICATE",
		},
		{
			name: "no rows",
			err:  sql.ErrNoRows,
			kind: apperrors.KindNotFound,
			code: apperrors.CodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translate(tt.err, "appointment", "id-1", "create")
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
}

func TestTranslatePassesOtherErrors(t *testing.T) {
	assert.NoError(t, translate(nil, "payment", "id-1", "create"))

	cause := &pq.Error{Code: "23503", Constraint: "fk"}
	err := translate(cause, "payment", "id-1", "create")
	assert.Contains(t, err.Error(), "failed to create payment")
	assert.True(t, errors.Is(err, cause))

	var e *apperrors.Error
	assert.False(t, errors.As(err, &e))
}
