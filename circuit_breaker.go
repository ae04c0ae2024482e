package go_oscar

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState string

const (
	// CircuitClosed means the circuit is allowing attempts through normally.
	CircuitClosed CircuitState = "closed"

	// CircuitOpen means the circuit is blocking attempts due to too many failures.
	CircuitOpen CircuitState = "open"

	// CircuitHalfOpen means the circuit is testing if the service has recovered.
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitBreaker guards the login path against hammering an
// authentication server that is down or already rate-limiting this
// client. It counts consecutive failures, opens after a threshold so
// further attempts fail fast, and after a timeout lets a single probe
// through to test recovery.
//
// States:
//   - Closed: Normal operation, failures are counted
//   - Open: Circuit is tripped, attempts fail fast without dialing
//   - Half-Open: Testing recovery, one attempt allowed
type CircuitBreaker struct {
	maxFailures  int           // Number of failures before opening circuit
	resetTimeout time.Duration // How long to wait before attempting half-open
	failures     int           // Current failure count
	lastFailure  time.Time     // When the last failure occurred
	state        CircuitState  // Current circuit state
	mu           sync.Mutex    // Protects all fields
}

// NewCircuitBreaker creates a new circuit breaker with the specified
// parameters. maxFailures of 0 means the circuit never opens
// automatically.
//
// Example:
//
//	// Open circuit after 3 failures, try recovery after 30 seconds
//	cb := NewCircuitBreaker(3, 30*time.Second)
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
	}
}

// Execute runs the given function if the circuit breaker allows it.
// Returns an error if the circuit is open or if the function fails.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

// beforeRequest checks if the circuit allows the request.
func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			Debug("circuit breaker transitioning to half-open state")
			return nil
		}
		return fmt.Errorf("circuit breaker is open (last failure: %v ago)",
			time.Since(cb.lastFailure).Round(time.Second))

	case CircuitHalfOpen:
		// Allow one request in half-open state
		return nil

	case CircuitClosed:
		return nil

	default:
		return fmt.Errorf("circuit breaker in unknown state: %s", cb.state)
	}
}

// afterRequest records the result of a request and updates circuit state.
func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.maxFailures > 0 && cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			Debug("circuit breaker opened after %d failures", cb.failures)
		}

	case CircuitHalfOpen:
		// Failed during half-open test, go back to open
		cb.state = CircuitOpen
		Debug("circuit breaker re-opened after half-open failure")
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitClosed
		cb.failures = 0
		Debug("circuit breaker closed after successful half-open test")

	case CircuitClosed:
		cb.failures = 0
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen returns true if the circuit is currently open.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == CircuitOpen
}

// IsClosed returns true if the circuit is currently closed.
func (cb *CircuitBreaker) IsClosed() bool {
	return cb.State() == CircuitClosed
}

// Failures returns the current failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset manually resets the circuit breaker to closed state with zero
// failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	Debug("circuit breaker manually reset")
}

// String returns a human-readable representation of the circuit breaker state.
func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker{state=%s, failures=%d/%d, lastFailure=%v}",
		cb.state, cb.failures, cb.maxFailures,
		time.Since(cb.lastFailure).Round(time.Second))
}
