package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	cb.Failure()
	assert.Equal(t, StateClosed, cb.GetState())
	cb.Failure()
	assert.Equal(t, StateOpen, cb.GetState())
	assert.False(t, cb.Allow())
}

func TestBreakerHalfOpensAfterTimeout(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second, HalfOpenMaxCalls: 1})
	cb.now = func() time.Time { return now }

	cb.Failure()
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.GetState())
	assert.False(t, cb.Allow(), "only one trial call in half-open")

	cb.Success()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestSuccessResetsFailureCountWhenClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	cb.Failure()
	cb.Success()
	cb.Failure()

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestExecute(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	boom := errors.New("carrier down")

	assert.Same(t, boom, cb.Execute(func() error { return boom }))
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrOpen)

	cb.Reset()
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, "closed", cb.GetMetrics()["state"])
}
