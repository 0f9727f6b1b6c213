package resilience

import (
	"sync"
	"time"

	apperrors "skill-barter/messaging/pkg/errors"
	"skill-barter/messaging/pkg/logger"
)

// State represents the current state of a circuit breaker
type State string

const (
	// StateClosed means calls pass through
	StateClosed State = "closed"
	// StateOpen means calls are short-circuited until the retry timeout elapses
	StateOpen State = "open"
	// StateHalfOpen means a limited number of trial calls are allowed
	StateHalfOpen State = "half-open"
)

// Config holds configuration for a circuit breaker
type Config struct {
	Name             string
	FailureThreshold uint
	SuccessThreshold uint
	RetryTimeout     time.Duration
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RetryTimeout:     30 * time.Second,
	}
}

// CircuitBreaker guards calls to a flaky dependency.
type CircuitBreaker struct {
	cfg Config
	log *logger.Logger
	now func() time.Time

	// OnStateChange, when set, is invoked with the new state while the
	// breaker lock is held; it must not call back into the breaker.
	OnStateChange func(name string, to State)

	mu              sync.Mutex
	state           State
	failureCount    uint
	successCount    uint
	nextAttemptTime time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg Config, log *logger.Logger) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CircuitBreaker{
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		state: StateClosed,
	}
}

// Execute runs fn through the breaker. When open it returns a
// CIRCUIT_OPEN error without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		cb.log.Debug("circuit breaker rejected call", "name", cb.cfg.Name)
		return apperrors.CircuitOpen(cb.cfg.Name)
	}

	if err := fn(); err != nil {
		cb.recordFailure(err)
		return err
	}
	cb.recordSuccess()
	return nil
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.nextAttemptTime) {
			return false
		}
		cb.transition(StateHalfOpen)
		return true
	case StateHalfOpen:
		return cb.successCount < cb.cfg.SuccessThreshold
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
	cb.log.Debug("circuit breaker recorded failure",
		"name", cb.cfg.Name,
		"error", err.Error(),
		"failures", cb.failureCount,
	)
}

// transition switches state and resets counters. Caller holds the lock.
func (cb *CircuitBreaker) transition(to State) {
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	if to == StateOpen {
		cb.nextAttemptTime = cb.now().Add(cb.cfg.RetryTimeout)
	}

	cb.log.Info("circuit breaker state changed", "name", cb.cfg.Name, "state", string(to))
	if cb.OnStateChange != nil {
		cb.OnStateChange(cb.cfg.Name, to)
	}
}
