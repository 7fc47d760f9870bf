package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("create appointment: %w", Conflict(CodeOverbooking, "slot taken"))

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, CodeOverbooking, CodeOf(wrapped))
	assert.True(t, Is(wrapped, KindConflict))
	assert.False(t, Is(nil, KindConflict))

	foreign := stderrors.New("connection refused")
	assert.Equal(t, KindInfrastructure, KindOf(foreign))
	assert.Equal(t, CodeDBError, CodeOf(foreign))
}

func TestNotFoundCarriesData(t *testing.T) {
	err := NotFound("appointment", 42)

	assert.Equal(t, "appointment not found", err.Error())
	assert.Equal(t, "appointment", err.Data["entity"])
	assert.Equal(t, "42", err.Data["id"])
}

func TestInfrastructureUnwraps(t *testing.T) {
	cause := stderrors.New("timeout")
	err := Infrastructure(cause, "failed to load slots")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to load slots: timeout", err.Error())
	assert.Equal(t, "infrastructure", err.Kind.String())
}
