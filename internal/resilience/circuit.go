package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the breaker position: closed (calls flow), open (calls
// rejected), half-open (one probe allowed through).
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

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

// ErrCircuitOpen rejects a call while the breaker is open.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// CircuitBreakerConfig tunes the breaker. Zero values get defaults.
type CircuitBreakerConfig struct {
	// FailureThreshold opens the circuit after this many consecutive
	// failures. Default 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe call
	// is allowed. Default 30s.
	ResetTimeout time.Duration

	// ShouldTrip decides whether an error counts as a failure. When nil,
	// every error except context cancellation counts.
	ShouldTrip func(err error) bool
}

// DefaultCircuitBreakerConfig returns the default tuning.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker guards one external service. Half-open admits a single
// probe: success closes the circuit, failure reopens it.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu          sync.Mutex
	state       CircuitState
	streak      int
	lastFailure time.Time

	clock func() time.Time
}

// NewCircuitBreaker builds a breaker, filling config defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, clock: time.Now}
}

// Execute runs fn unless the circuit is open, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.observe(err)
	return err
}

// ExecuteVal is Execute for calls that return a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.observe(err)
	return val, err
}

// State reports the breaker position, accounting for reset-timeout expiry.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.clock().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if cb.clock().Sub(cb.lastFailure) < cb.cfg.ResetTimeout {
		return ErrCircuitOpen
	}
	// Timeout elapsed: let one probe through.
	cb.state = CircuitHalfOpen
	return nil
}

func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !cb.trips(err) {
		cb.streak = 0
		if cb.state == CircuitHalfOpen {
			cb.state = CircuitClosed
		}
		return
	}

	cb.streak++
	cb.lastFailure = cb.clock()
	if cb.state == CircuitHalfOpen || cb.streak >= cb.cfg.FailureThreshold {
		cb.state = CircuitOpen
	}
}

func (cb *CircuitBreaker) trips(err error) bool {
	if cb.cfg.ShouldTrip != nil {
		return cb.cfg.ShouldTrip(err)
	}
	return !errors.Is(err, context.Canceled)
}
