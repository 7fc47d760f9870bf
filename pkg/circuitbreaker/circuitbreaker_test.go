package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{
		Name:             "test",
		MaxRequests:      1,
		Timeout:          time.Minute,
		FailureThreshold: 2,
	})
	fail := errors.New("redis down")

	assert.ErrorIs(t, cb.Execute(func() error { return fail }), fail)
	assert.ErrorIs(t, cb.Execute(func() error { return fail }), fail)

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.Equal(t, "open", cb.State())
}

func TestBreakerPassesSuccess(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "ok"})
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, "closed", cb.State())
}
