package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingCall(context.Context) error { return eris.New("service down") }

func okCall(context.Context) error { return nil }

func TestBreakerClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	require.NoError(t, cb.Execute(context.Background(), okCall))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 3
	cb := NewCircuitBreaker(cfg)

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Execute(context.Background(), failingCall))
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), okCall)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerSuccessClearsStreak(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 3
	cb := NewCircuitBreaker(cfg)

	_ = cb.Execute(context.Background(), failingCall)
	_ = cb.Execute(context.Background(), failingCall)
	require.NoError(t, cb.Execute(context.Background(), okCall))

	failures, state := cb.Counters()
	assert.Zero(t, failures)
	assert.Equal(t, CircuitClosed, state)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.ResetTimeout = time.Minute
	cb := NewCircuitBreaker(cfg)

	now := time.Now()
	cb.nowFunc = func() time.Time { return now }

	require.Error(t, cb.Execute(context.Background(), failingCall))
	assert.Equal(t, CircuitOpen, cb.State())

	// Past the reset timeout the next call is admitted, and its success
	// closes the circuit.
	now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), okCall))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.ResetTimeout = time.Minute
	cb := NewCircuitBreaker(cfg)

	now := time.Now()
	cb.nowFunc = func() time.Time { return now }

	require.Error(t, cb.Execute(context.Background(), failingCall))
	now = now.Add(2 * time.Minute)

	require.Error(t, cb.Execute(context.Background(), failingCall))
	assert.ErrorIs(t, cb.Execute(context.Background(), okCall), ErrCircuitOpen)
}

func TestBreakerStateChangeHook(t *testing.T) {
	var transitions []string

	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.OnStateChange = func(from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}
	cb := NewCircuitBreaker(cfg)

	_ = cb.Execute(context.Background(), failingCall)
	cb.Reset()

	assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
}

func TestBreakerShouldTripFilter(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.ShouldTrip = IsTransient
	cb := NewCircuitBreaker(cfg)

	// A permanent failure passes through without tripping.
	require.Error(t, cb.Execute(context.Background(), func(context.Context) error {
		return eris.New("invalid model name")
	}))
	assert.Equal(t, CircuitClosed, cb.State())

	// A tagged transient failure trips it.
	require.Error(t, cb.Execute(context.Background(), func(context.Context) error {
		return NewTransientError(eris.New("overloaded"), 529)
	}))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestBreakerReset(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cb := NewCircuitBreaker(cfg)

	_ = cb.Execute(context.Background(), failingCall)
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	require.NoError(t, cb.Execute(context.Background(), okCall))
}

func TestBreakerConcurrentCalls(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(fail bool) {
			defer wg.Done()
			if fail {
				_ = cb.Execute(context.Background(), failingCall)
			} else {
				_ = cb.Execute(context.Background(), okCall)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	// No race, and the state is one of the defined values.
	_, state := cb.Counters()
	assert.Contains(t, []CircuitState{CircuitClosed, CircuitOpen, CircuitHalfOpen}, state)
}

func TestExecuteValPassesValue(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	got, err := ExecuteVal(context.Background(), cb, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestExecuteValRejectsWhenOpen(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cb := NewCircuitBreaker(cfg)

	_ = cb.Execute(context.Background(), failingCall)

	got, err := ExecuteVal(context.Background(), cb, func(context.Context) (string, error) {
		return "never", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Empty(t, got)
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}
