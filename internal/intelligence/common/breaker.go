package common

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
)

// ---------------------------------------------------------------------------
// Circuit breaker over consecutive stage-call failures
// ---------------------------------------------------------------------------

// BreakerState is the circuit breaker state.
type BreakerState int32

const (
	BreakerClosed   BreakerState = 0
	BreakerOpen     BreakerState = 1
	BreakerHalfOpen BreakerState = 2
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker trips after threshold consecutive failures and allows a
// single trial call once cooldown has elapsed. All methods are safe for
// concurrent use. A threshold <= 0 disables the breaker.
type CircuitBreaker struct {
	name             string
	state            atomic.Int32
	consecutiveFails atomic.Int32
	threshold        int32
	cooldown         time.Duration
	lastOpenTime     atomic.Int64 // unix-nano
	halfOpenPermits  atomic.Int32
	now              func() time.Time
	logger           logging.Logger
	metrics          ExtractionMetrics
	onChange         func(from, to BreakerState)
}

// BreakerOption customises a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock overrides the time source (tests).
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithBreakerListener registers a callback invoked after every transition.
// The callback runs on the goroutine that caused the transition and must not
// block.
func WithBreakerListener(fn func(from, to BreakerState)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, logger logging.Logger, metrics ExtractionMetrics, opts ...BreakerOption) *CircuitBreaker {
	if metrics == nil {
		metrics = NewNoopExtractionMetrics()
	}
	cb := &CircuitBreaker{
		name:      name,
		threshold: int32(threshold),
		cooldown:  cooldown,
		now:       time.Now,
		logger:    logging.OrNop(logger),
		metrics:   metrics,
	}
	for _, o := range opts {
		o(cb)
	}
	cb.state.Store(int32(BreakerClosed))
	return cb
}

// Allow reports whether a call may proceed. In the open state it moves to
// half-open once cooldown has elapsed and grants exactly one trial permit.
func (cb *CircuitBreaker) Allow() bool {
	if cb == nil || cb.threshold <= 0 {
		return true
	}
	switch BreakerState(cb.state.Load()) {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if !cb.CooldownElapsed() {
			return false
		}
		if cb.state.CompareAndSwap(int32(BreakerOpen), int32(BreakerHalfOpen)) {
			cb.halfOpenPermits.Store(1)
			cb.transition(BreakerOpen, BreakerHalfOpen)
		}
		return cb.halfOpenPermits.Add(-1) >= 0
	case BreakerHalfOpen:
		return cb.halfOpenPermits.Add(-1) >= 0
	}
	return false
}

// CooldownElapsed reports whether an open breaker is due for a trial.
func (cb *CircuitBreaker) CooldownElapsed() bool {
	if cb == nil {
		return true
	}
	openedAt := cb.lastOpenTime.Load()
	return cb.now().Sub(time.Unix(0, openedAt)) >= cb.cooldown
}

// RecordSuccess resets the failure counter and closes a half-open breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil || cb.threshold <= 0 {
		return
	}
	cb.consecutiveFails.Store(0)
	if cb.state.CompareAndSwap(int32(BreakerHalfOpen), int32(BreakerClosed)) {
		cb.transition(BreakerHalfOpen, BreakerClosed)
	}
}

// RecordFailure counts a failure and may trip the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil || cb.threshold <= 0 {
		return
	}
	fails := cb.consecutiveFails.Add(1)

	switch BreakerState(cb.state.Load()) {
	case BreakerClosed:
		if fails >= cb.threshold && cb.state.CompareAndSwap(int32(BreakerClosed), int32(BreakerOpen)) {
			cb.lastOpenTime.Store(cb.now().UnixNano())
			cb.transition(BreakerClosed, BreakerOpen)
		}
	case BreakerHalfOpen:
		if cb.state.CompareAndSwap(int32(BreakerHalfOpen), int32(BreakerOpen)) {
			cb.lastOpenTime.Store(cb.now().UnixNano())
			cb.transition(BreakerHalfOpen, BreakerOpen)
		}
	}
}

// Reset forces the breaker closed, e.g. after a healthy probe following an
// outage.
func (cb *CircuitBreaker) Reset() {
	if cb == nil {
		return
	}
	cb.consecutiveFails.Store(0)
	prev := BreakerState(cb.state.Swap(int32(BreakerClosed)))
	if prev != BreakerClosed {
		cb.transition(prev, BreakerClosed)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	if cb == nil {
		return BreakerClosed
	}
	return BreakerState(cb.state.Load())
}

// ConsecutiveFailures returns the current failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	if cb == nil {
		return 0
	}
	return int(cb.consecutiveFails.Load())
}

func (cb *CircuitBreaker) transition(from, to BreakerState) {
	cb.logger.Info("circuit-breaker state change",
		logging.String("breaker", cb.name),
		logging.String("from", from.String()),
		logging.String("to", to.String()))
	cb.metrics.RecordCircuitBreakerStateChange(context.Background(), cb.name, from.String(), to.String())
	if cb.onChange != nil {
		cb.onChange(from, to)
	}
}

//Personal.AI order the ending
