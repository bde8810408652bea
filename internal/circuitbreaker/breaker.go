// Package circuitbreaker protects the rate-limited upstream APIs from retry
// storms: after enough consecutive absorbed failures against one upstream,
// fetches short-circuit to the unavailable sentinel until a cooldown elapses.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, upstream calls short-circuited
	StateHalfOpen              // Cooldown elapsed, one probe allowed through
)

// String returns a human-readable state name for status reporting.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker tracks consecutive failures against a single upstream API.
type Breaker struct {
	// Name of the guarded upstream, used in logs and status output
	name string

	// Consecutive absorbed failures that trip the circuit
	failureThreshold int

	// Duration the circuit stays open before allowing a probe
	cooldown time.Duration

	// Injectable clock for tests
	now func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	lastTrip      time.Time
	onTrip        func(name string)
	probeInFlight bool
}

// New creates a closed breaker for the named upstream.
func New(name string, failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// WithClock overrides the breaker's clock, for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// WithTripCallback sets a callback invoked whenever the circuit trips.
func (b *Breaker) WithTripCallback(callback func(name string)) *Breaker {
	b.onTrip = callback
	return b
}

// Allow reports whether a call to the upstream may proceed. When the circuit
// is open and the cooldown has elapsed, exactly one probe is let through in
// the half-open state.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default: // StateOpen
		if b.now().Sub(b.lastTrip) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		logrus.Infof("Circuit breaker half-open for %s: probing recovery", b.name)
		return true
	}
}

// Success records a successful upstream call, closing the circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		logrus.Infof("Circuit breaker closed for %s: upstream recovered", b.name)
	}
	b.state = StateClosed
	b.failures = 0
	b.probeInFlight = false
}

// Failure records an absorbed fetch failure. Enough consecutive failures, or
// a single failed half-open probe, trip the circuit.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.failureThreshold {
		b.trip()
	}
}

// GetState returns the current state of the circuit breaker
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forcibly closes the circuit and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probeInFlight = false
	logrus.Infof("Circuit breaker for %s manually reset", b.name)
}

// trip opens the circuit. Caller must hold the mutex.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.lastTrip = b.now()
	b.probeInFlight = false
	logrus.Warnf("Circuit breaker tripped for %s after %d consecutive failures", b.name, b.failures)

	if b.onTrip != nil {
		go b.onTrip(b.name)
	}
}
