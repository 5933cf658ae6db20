// Package circuitbreaker stops hammering the market feed while it is down.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/market-sync/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means requests flow normally
	StateClosed State = "closed"
	// StateOpen means requests are rejected without being attempted
	StateOpen State = "open"
	// StateHalfOpen means a few probe requests are let through
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when the half-open probe budget is spent
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Config configures a circuit breaker
type Config struct {
	Name string
	// ConsecutiveFailures opens the circuit once reached.
	ConsecutiveFailures int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// HalfOpenMaxCalls successful probes close the circuit again.
	HalfOpenMaxCalls int
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:                name,
		ConsecutiveFailures: 10,
		Timeout:             30 * time.Second,
		HalfOpenMaxCalls:    3,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu               sync.Mutex
	state            State
	consecutiveFails int
	halfOpenCalls    int
	halfOpenOK       int
	lastStateChange  time.Time
	lastFailure      time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig("default")
	}
	return &CircuitBreaker{
		cfg:             *config,
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn unless the circuit is open. A non-nil error from fn counts as a failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.cfg.Timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			return ErrTooManyRequests
		}
		cb.halfOpenCalls++
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.consecutiveFails++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.consecutiveFails >= cb.cfg.ConsecutiveFailures {
			if cb.state != StateOpen {
				logging.WithField("circuitBreaker", cb.cfg.Name).
					WithField("consecutiveFails", cb.consecutiveFails).
					Warn("Circuit breaker opened")
			}
			cb.setState(StateOpen)
		}
		return
	}

	cb.consecutiveFails = 0
	if cb.state == StateHalfOpen {
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.cfg.HalfOpenMaxCalls {
			cb.setState(StateClosed)
			logging.WithField("circuitBreaker", cb.cfg.Name).Info("Circuit breaker closed after recovery")
		}
	}
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = cb.now()
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	LastFailureTime  time.Time `json:"lastFailureTime"`
	LastStateChange  time.Time `json:"lastStateChange"`
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:             cb.cfg.Name,
		State:            cb.state,
		ConsecutiveFails: cb.consecutiveFails,
		LastFailureTime:  cb.lastFailure,
		LastStateChange:  cb.lastStateChange,
	}
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0
	cb.setState(StateClosed)
}
