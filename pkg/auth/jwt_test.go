package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewTokenManager("secret", "medbooking", time.Hour)
	id := uuid.New()

	token, exp, err := m.Generate(id, "doctor", "d@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, id.String(), claims.UserID)
	assert.Equal(t, "doctor", claims.Role)
	assert.Equal(t, "d@example.com", claims.Email)
}

func TestValidateRejects(t *testing.T) {
	m := NewTokenManager("secret", "medbooking", time.Hour)
	token, _, err := m.Generate(uuid.New(), "patient", "")
	require.NoError(t, err)

	_, err = NewTokenManager("other", "medbooking", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokenManager("secret", "someone-else", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	later := NewTokenManager("secret", "medbooking", time.Hour)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = later.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
