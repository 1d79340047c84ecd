package worker

import (
	"sync"
	"time"

	"crawlsched/internal/observability"
)

// CircuitState represents the state of the outbound HTTP circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitHalfOpen                     // Testing recovery
	CircuitOpen                         // Rejecting calls
)

func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after consecutive outbound failures and lets a single
// probe through once the recovery period has passed.
type CircuitBreaker struct {
	mu    sync.Mutex
	state CircuitState

	failureThreshold int
	recoveryPeriod   time.Duration

	failures int
	openedAt time.Time
}

func NewCircuitBreaker(failureThreshold int, recoveryPeriod time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		recoveryPeriod:   recoveryPeriod,
	}
}

// Allow reports whether a call may proceed. In the open state one probe is
// admitted per recovery period; the probe's outcome decides what happens next.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.openedAt) >= cb.recoveryPeriod {
			cb.setState(CircuitHalfOpen)
			return true
		}
		return false
	case CircuitHalfOpen:
		// Probe already in flight; hold further traffic.
		return false
	}
	return false
}

// RecordSuccess resets the breaker after a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState(CircuitClosed)
}

// RecordFailure counts a failed call; the threshold trips the breaker and a
// failed half-open probe re-opens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.openedAt = time.Now()
		cb.setState(CircuitOpen)
		return
	}

	cb.failures++
	if cb.failures >= cb.failureThreshold {
		cb.openedAt = time.Now()
		cb.setState(CircuitOpen)
	}
}

// State returns the current circuit state (thread-safe).
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// setState assumes cb.mu is held.
func (cb *CircuitBreaker) setState(s CircuitState) {
	cb.state = s
	observability.BreakerState.Set(float64(s))
}
