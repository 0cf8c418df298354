package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test error")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cb := New(cfg)
	cb.now = clock.Now
	return cb, clock
}

func testConfig() Config {
	return Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

func TestCircuitBreaker_PassesThroughWhileClosed(t *testing.T) {
	cb, _ := newTestBreaker(testConfig())

	v, err := Execute(cb, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	err = cb.Call(func() error { return errTest })
	assert.ErrorIs(t, err, errTest)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(testConfig())

	_ = cb.Call(func() error { return errTest })
	_ = cb.Call(func() error { return nil })
	_ = cb.Call(func() error { return errTest })
	assert.Equal(t, StateClosed, cb.State(), "a success resets the failure run")

	_ = cb.Call(func() error { return errTest })
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(testConfig())
	for i := 0; i < 2; i++ {
		_ = cb.Call(func() error { return errTest })
	}
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(testConfig())
	for i := 0; i < 2; i++ {
		_ = cb.Call(func() error { return errTest })
	}
	clock.Advance(time.Second)

	_ = cb.Call(func() error { return errTest })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_LimitsHalfOpenProbes(t *testing.T) {
	cb, clock := newTestBreaker(testConfig())
	for i := 0; i < 2; i++ {
		_ = cb.Call(func() error { return errTest })
	}
	clock.Advance(time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		done <- cb.Call(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrOpen)
	close(release)
	assert.NoError(t, <-done)
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	errBenign := errors.New("benign")
	cfg := testConfig()
	cfg.IsFailure = func(err error) bool { return !errors.Is(err, errBenign) }
	cb, _ := newTestBreaker(cfg)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Call(func() error { return errBenign }), errBenign)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_StateChangeHookAndReset(t *testing.T) {
	cb, clock := newTestBreaker(testConfig())

	var transitions []string
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	for i := 0; i < 2; i++ {
		_ = cb.Call(func() error { return errTest })
	}
	clock.Advance(time.Second)
	_ = cb.Call(func() error { return nil })

	assert.Equal(t, []string{"closed->open", "open->half-open"}, transitions)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}
