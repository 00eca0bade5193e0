package errors

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("connection refused")

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker that opens after 3 failures
	cb := NewCircuitBreaker("store", WithMaxFailures(3), WithResetTimeout(time.Second))

	// When: the backend fails 3 times
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errBackend })
	}

	// Then: the circuit is open and calls are rejected without running
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, ErrCodeCircuitOpen, GetCode(err))
	assert.True(t, IsRetryable(err))
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("store", WithMaxFailures(3))

	_ = cb.Execute(func() error { return errBackend })
	_ = cb.Execute(func() error { return errBackend })
	require.Equal(t, 2, cb.Failures())

	// When: a call succeeds between failures
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return errBackend })

	// Then: only consecutive failures count
	assert.Equal(t, 1, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	errMissing := errors.New("record not found")
	cb := NewCircuitBreaker("store",
		WithMaxFailures(2),
		WithTrips(func(err error) bool { return !errors.Is(err, errMissing) }),
	)

	// When: the backend answers with an ignored error repeatedly
	for i := 0; i < 5; i++ {
		err := cb.Execute(func() error { return errMissing })
		assert.ErrorIs(t, err, errMissing)
	}

	// Then: the circuit stays closed
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	// Given: an open breaker with a short reset timeout
	cb := NewCircuitBreaker("store", WithMaxFailures(2), WithResetTimeout(50*time.Millisecond))
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errBackend })
	}
	require.Equal(t, StateOpen, cb.State())

	// When: the timeout passes
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Then: a successful trial closes the circuit
	n, err := CircuitExecute(cb, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("store", WithMaxFailures(3), WithResetTimeout(50*time.Millisecond))
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errBackend })
	}
	time.Sleep(60 * time.Millisecond)

	// When: the trial call fails
	err := cb.Execute(func() error { return errBackend })

	// Then: the circuit opens again at once
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenAllowsOneTrial(t *testing.T) {
	cb := NewCircuitBreaker("store", WithMaxFailures(1), WithResetTimeout(20*time.Millisecond))
	_ = cb.Execute(func() error { return errBackend })
	time.Sleep(30 * time.Millisecond)

	// Given: a trial call parked inside the backend
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// When: other callers arrive during the trial
	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cb.Execute(func() error {
				ran.Add(1)
				return nil
			})
			assert.ErrorIs(t, err, ErrCircuitOpen)
		}()
	}
	wg.Wait()
	close(release)

	// Then: only the trial reached the backend
	require.NoError(t, <-done)
	assert.Equal(t, int32(0), ran.Load())
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
