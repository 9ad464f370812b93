package reconnect

import (
	"sync"
	"time"

	"github.com/onsembl/onsembl/shared/types"
)

// Breaker is a circuit breaker wrapping a reconnection loop: after
// failureThreshold consecutive failures it opens for openDuration;
// CanAttempt reports false while open. After the cool-down a single trial
// attempt is allowed (half-open); success closes the breaker, failure
// reopens it for another cool-down period.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	openDuration     time.Duration

	state       types.BreakerState
	failures    int
	openedAt    time.Time
	trialInFlight bool

	onStateChange func(types.BreakerState)
}

// NewBreaker builds a Breaker with the defaults named in §4.D: 5 consecutive
// failures opens the breaker for 60s.
func NewBreaker(onStateChange func(types.BreakerState)) *Breaker {
	return &Breaker{
		failureThreshold: 5,
		openDuration:      60 * time.Second,
		state:             types.BreakerClosed,
		onStateChange:     onStateChange,
	}
}

// CanAttempt reports whether the caller may attempt a reconnection right
// now. It also performs the open -> half-open transition when the cool-down
// has elapsed.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case types.BreakerClosed:
		return true
	case types.BreakerHalfOpen:
		// Only one trial attempt is allowed at a time.
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	case types.BreakerOpen:
		if time.Since(b.openedAt) >= b.openDuration {
			b.setState(types.BreakerHalfOpen)
			b.trialInFlight = true
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialInFlight = false
	b.setState(types.BreakerClosed)
}

// RecordFailure increments the failure count; if it reaches the threshold
// (or a half-open trial failed) the breaker opens.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == types.BreakerHalfOpen {
		b.trialInFlight = false
		b.failures = 0
		b.openedAt = time.Now()
		b.setState(types.BreakerOpen)
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.openedAt = time.Now()
		b.setState(types.BreakerOpen)
	}
}

// State returns the current observable breaker state.
func (b *Breaker) State() types.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setState must be called with mu held. It notifies onStateChange outside
// any further locking concern since the callback is expected to be cheap
// (e.g. a log line or a metric increment).
func (b *Breaker) setState(s types.BreakerState) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onStateChange != nil {
		b.onStateChange(s)
	}
}
