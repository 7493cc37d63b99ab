package agent

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// circuitState represents the state of the circuit breaker
type circuitState int

const (
	circuitClosed   circuitState = iota // normal operation
	circuitOpen                         // too many failures, fail fast
	circuitHalfOpen                     // probing for recovery
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "CLOSED"
	case circuitOpen:
		return "OPEN"
	case circuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// errCircuitOpen is returned when the circuit breaker is rejecting calls
var errCircuitOpen = errors.New("circuit breaker is open")

// circuitBreaker fails fast when the external agent keeps dying, instead of
// burning the retry budget on every call
type circuitBreaker struct {
	mu sync.Mutex

	state            circuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	logger           *slog.Logger
}

func newCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration, logger *slog.Logger) *circuitBreaker {
	return &circuitBreaker{
		state:            circuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		logger:           logger,
	}
}

// allow checks whether a call may proceed
func (cb *circuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return nil
	case circuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.transition(circuitHalfOpen)
			return nil
		}
		return errCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return errCircuitOpen
	}
}

// recordSuccess notes a successful call
func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		cb.failureCount = 0
	case circuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transition(circuitClosed)
		}
	}
}

// recordFailure notes a process-level failure
func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case circuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(circuitOpen)
		}
	case circuitHalfOpen:
		// Any failure while probing reopens immediately
		cb.transition(circuitOpen)
	}
}

// transition must be called with the lock held
func (cb *circuitBreaker) transition(to circuitState) {
	from := cb.state
	cb.state = to
	if to == circuitClosed {
		cb.failureCount = 0
	}
	cb.successCount = 0
	cb.logger.Info("agent circuit breaker state change",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int("failures", cb.failureCount),
	)
}
