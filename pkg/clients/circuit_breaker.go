package clients

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// ErrCircuitOpen is returned by Execute while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed allows all requests to pass through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a limited number of requests to test if the service has recovered
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig is the configuration for circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	SuccessThreshold int           // Consecutive half-open successes before closing
	HalfOpenLimit    int           // Concurrent trial requests while half-open
	Timeout          time.Duration // Time spent open before trying again
}

// DefaultCircuitBreakerConfig returns the defaults used by the HTTP sink.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		HalfOpenLimit:    1,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker rejects calls for Timeout once FailureThreshold calls in a
// row have failed, then admits trial calls until SuccessThreshold succeed.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	clock  clock.PassiveClock
	logger *zap.Logger

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInFlight     int
	nextRetry            time.Time
}

// NewCircuitBreaker creates a closed circuit breaker. A nil clock uses the
// real one.
func NewCircuitBreaker(config CircuitBreakerConfig, clk clock.PassiveClock, logger *zap.Logger) *CircuitBreaker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HalfOpenLimit < 1 {
		config.HalfOpenLimit = 1
	}
	return &CircuitBreaker{
		config: config,
		clock:  clk,
		logger: logger.With(zap.String("component", "circuit_breaker")),
	}
}

// Execute runs fn unless the circuit is open, and records its outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	state, ok := cb.allow()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()
	cb.record(state, err == nil)
	return err
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() (CircuitState, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.clock.Now().Before(cb.nextRetry) {
			return cb.state, false
		}
		cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.halfOpenInFlight >= cb.config.HalfOpenLimit {
			return cb.state, false
		}
		cb.halfOpenInFlight++
	}
	return cb.state, true
}

func (cb *CircuitBreaker) record(admitted CircuitState, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if admitted == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	switch cb.state {
	case StateClosed:
		if success {
			cb.consecutiveFailures = 0
			return
		}
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}

	case StateHalfOpen:
		if !success {
			cb.transition(StateOpen)
			return
		}
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.consecutiveSuccesses = 0
	cb.halfOpenInFlight = 0

	switch to {
	case StateOpen:
		cb.nextRetry = cb.clock.Now().Add(cb.config.Timeout)
		cb.logger.Warn("circuit breaker opened",
			zap.Time("retry_after", cb.nextRetry),
			zap.Int("consecutive_failures", cb.consecutiveFailures))
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.logger.Info("circuit breaker closed")
	default:
		cb.logger.Info("circuit breaker half-open", zap.Stringer("from", from))
	}
}
