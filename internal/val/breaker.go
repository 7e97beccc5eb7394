package val

import (
	"sync"
	"time"
)

// BreakerState is one of the three classic circuit states.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// CircuitBreaker trips a provider closed -> open after FailureThreshold
// consecutive failures, and recovers open -> half_open -> closed after
// Cooldown has passed and SuccessThreshold consecutive successes land in
// the half-open probe window.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	consecutiveFail  int
	consecutiveOK    int
	openedAt         time.Time
}

func NewCircuitBreaker(failureThreshold, successThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
	}
}

// Allow reports whether a call may proceed right now, transitioning
// open -> half_open once cooldown has elapsed.
func (b *CircuitBreaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			b.consecutiveOK = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess clears failure streaks and, in half_open, counts toward
// closing the breaker again.
func (b *CircuitBreaker) RecordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail = 0
	switch b.state {
	case StateHalfOpen:
		b.consecutiveOK++
		if b.consecutiveOK >= b.successThreshold {
			b.state = StateClosed
			b.consecutiveOK = 0
		}
	case StateClosed:
	}
}

// RecordFailure counts toward tripping the breaker open. A failure
// during half_open reopens it immediately.
func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.consecutiveOK = 0
	case StateClosed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = now
			b.consecutiveFail = 0
		}
	}
}

// State reports the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
