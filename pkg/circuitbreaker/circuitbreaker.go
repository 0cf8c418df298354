package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned without calling the guarded function while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls fail fast with ErrOpen
	StateHalfOpen              // a limited number of probe calls pass through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold    int           // consecutive failures that open the circuit
	SuccessThreshold    int           // half-open successes that close it again
	Timeout             time.Duration // open time before probing
	MaxRequestsHalfOpen int           // concurrent probes while half-open

	// IsFailure decides which errors count against the circuit. Nil counts every error.
	IsFailure func(err error) bool
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 1,
	}
}

type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	halfOpenRequests int
	openedAt         time.Time

	onStateChange func(from, to State)
}

func New(config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.MaxRequestsHalfOpen <= 0 {
		config.MaxRequestsHalfOpen = 1
	}
	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// OnStateChange registers fn to run after every transition, outside the breaker lock.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// State reports the current state. An open breaker whose timeout has passed reports
// half-open; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
		return StateHalfOpen
	}
	return cb.state
}

// Call runs fn through the breaker.
func (cb *CircuitBreaker) Call(fn func() error) error {
	_, err := Execute(cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Execute runs fn through cb. Errors from fn are returned unchanged.
func Execute[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := cb.acquire(); err != nil {
		return zero, err
	}
	result, err := fn()
	cb.record(err)
	return result, err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	from, changed := cb.state, cb.expireLocked()

	var err error
	switch cb.state {
	case StateOpen:
		err = fmt.Errorf("%w, retry after %s", ErrOpen, cb.openedAt.Add(cb.config.Timeout).Sub(cb.now()).Round(time.Millisecond))
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.MaxRequestsHalfOpen {
			err = fmt.Errorf("%w: half-open probe in flight", ErrOpen)
		} else {
			cb.halfOpenRequests++
		}
	}
	hook := cb.onStateChange
	to := cb.state
	cb.mu.Unlock()

	if changed && hook != nil {
		hook(from, to)
	}
	return err
}

func (cb *CircuitBreaker) record(err error) {
	failed := err != nil && (cb.config.IsFailure == nil || cb.config.IsFailure(err))

	cb.mu.Lock()
	from := cb.state
	if cb.state == StateHalfOpen && cb.halfOpenRequests > 0 {
		cb.halfOpenRequests--
	}

	switch {
	case failed && cb.state == StateHalfOpen:
		cb.transitionLocked(StateOpen)
	case failed:
		cb.failures++
		cb.successes = 0
		if cb.state == StateClosed && cb.failures >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	default:
		cb.failures = 0
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessThreshold {
			cb.transitionLocked(StateClosed)
		}
	}
	to := cb.state
	hook := cb.onStateChange
	cb.mu.Unlock()

	if from != to && hook != nil {
		hook(from, to)
	}
}

// expireLocked moves an open breaker to half-open once its timeout has passed.
func (cb *CircuitBreaker) expireLocked() bool {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
		cb.transitionLocked(StateHalfOpen)
		return true
	}
	return false
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenRequests = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
}
