package http

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state where requests are allowed.
	CircuitClosed CircuitState = iota
	// CircuitOpen is the state where requests fail fast.
	CircuitOpen
	// CircuitHalfOpen lets one probe request through after the recovery timeout.
	CircuitHalfOpen
)

// String returns the string representation of a circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	// DefaultFailureThreshold is the number of consecutive transient failures
	// that opens the circuit.
	DefaultFailureThreshold = 10
	// DefaultRecoveryTimeout is how long the circuit stays open before probing.
	DefaultRecoveryTimeout = 5 * time.Minute
)

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures to open the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before half-opening.
	RecoveryTimeout time.Duration
	// IsTransientError decides which errors count as failures. Nil counts all.
	IsTransientError func(error) bool
}

// DefaultCircuitBreakerConfig returns the defaults used by New.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
		IsTransientError: IsTransientHTTPError,
	}
}

type circuit struct {
	state             CircuitState
	consecutiveErrors int
	openedAt          time.Time
	probing           bool
}

// CircuitBreaker tracks consecutive failures per host. A host that keeps
// failing is cut off so that a long catalog walk stops instead of burning
// through every remaining item.
type CircuitBreaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	config   CircuitBreakerConfig
	now      func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return &CircuitBreaker{
		circuits: make(map[string]*circuit),
		config:   cfg,
		now:      time.Now,
	}
}

// Allow returns ErrCircuitOpen if host is cut off.
func (cb *CircuitBreaker) Allow(host string) error {
	if cb == nil {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	switch c.state {
	case CircuitOpen:
		if cb.now().Sub(c.openedAt) < cb.config.RecoveryTimeout {
			return ErrCircuitOpen
		}
		c.state = CircuitHalfOpen
		c.probing = true
		return nil
	case CircuitHalfOpen:
		if c.probing {
			return ErrCircuitOpen
		}
		c.probing = true
	}
	return nil
}

// RecordSuccess closes the circuit for host.
func (cb *CircuitBreaker) RecordSuccess(host string) {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	c.state = CircuitClosed
	c.consecutiveErrors = 0
	c.probing = false
}

// RecordFailure counts a failure against host. Permanent errors, as judged
// by IsTransientError, leave the circuit untouched.
func (cb *CircuitBreaker) RecordFailure(host string, err error) {
	if cb == nil {
		return
	}
	if cb.config.IsTransientError != nil && !cb.config.IsTransientError(err) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(host)
	c.consecutiveErrors++
	c.probing = false
	if c.state == CircuitHalfOpen || c.consecutiveErrors >= cb.config.FailureThreshold {
		c.state = CircuitOpen
		c.openedAt = cb.now()
	}
}

// State returns the current state for host.
func (cb *CircuitBreaker) State(host string) CircuitState {
	if cb == nil {
		return CircuitClosed
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[host]
	if !ok {
		return CircuitClosed
	}
	if c.state == CircuitOpen && cb.now().Sub(c.openedAt) >= cb.config.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return c.state
}

// ConsecutiveFailures returns the current failure streak for host.
func (cb *CircuitBreaker) ConsecutiveFailures(host string) int {
	if cb == nil {
		return 0
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if c, ok := cb.circuits[host]; ok {
		return c.consecutiveErrors
	}
	return 0
}

// must be called with cb.mu held
func (cb *CircuitBreaker) get(host string) *circuit {
	c, ok := cb.circuits[host]
	if !ok {
		c = &circuit{state: CircuitClosed}
		cb.circuits[host] = c
	}
	return c
}

// IsTransientHTTPError reports whether err is worth counting against a host:
// rate limits, 5xx and network failures are; auth failures and other 4xx are not.
func IsTransientHTTPError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled) {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.StatusCode >= 500 || transportErr.StatusCode == 0
	}

	return true
}
