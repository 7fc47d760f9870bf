package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHHMM(t *testing.T) {
	for _, ok := range []string{"00:00", "9:00", "09:30", "23:59"} {
		assert.True(t, HHMM(ok), ok)
	}
	for _, bad := range []string{"24:00", "12:60", "1200", "", "ab:cd", "12:5"} {
		assert.False(t, HHMM(bad), bad)
	}
}

func TestRegisterOn(t *testing.T) {
	v := validator.New()
	require.NoError(t, RegisterOn(v))

	type window struct {
		Start string `validate:"required,hhmm"`
	}
	assert.NoError(t, v.Struct(window{Start: "08:00"}))
	assert.Error(t, v.Struct(window{Start: "8am"}))
}
