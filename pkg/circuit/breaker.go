// Package circuit provides a circuit breaker for calls into external daemons.
package circuit

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/bardlex/gomint/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests are allowed
	StateClosed State = iota
	// StateOpen - requests are rejected
	StateOpen
	// StateHalfOpen - limited requests probe for recovery
	StateHalfOpen
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is matched (errors.Is) by the error returned while the circuit is open.
var ErrOpen = stderrors.New("circuit breaker is open")

// Config holds circuit breaker configuration
type Config struct {
	Name            string
	MaxFailures     int           // failures before opening
	SuccessRequired int           // successes needed to close from half-open
	Timeout         time.Duration // open -> half-open delay
	ResetTimeout    time.Duration // closed-state failure count lifetime

	// OnStateChange, if set, is called outside the lock after every transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}
}

// DaemonConfig is tuned for a local daemon: opens quickly, probes every few seconds.
func DaemonConfig(name string) *Config {
	return &Config{
		Name:            name,
		MaxFailures:     3,
		SuccessRequired: 1,
		Timeout:         5 * time.Second,
		ResetTimeout:    time.Minute,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	config *Config
	now    func() time.Time
	mutex  sync.RWMutex

	state         State
	failures      int
	successes     int
	lastFailTime  time.Time
	lastResetTime time.Time
	lastSuccess   time.Time
}

// New creates a new circuit breaker
func New(config *Config) *Breaker {
	return newWithClock(config, time.Now)
}

func newWithClock(config *Config, now func() time.Time) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	start := now()
	return &Breaker{
		config:        config,
		now:           now,
		state:         StateClosed,
		lastResetTime: start,
		lastSuccess:   start,
	}
}

// Execute runs a function with circuit breaker protection
func (cb *Breaker) Execute(ctx context.Context, fn func() error) error {
	_, err := ExecuteWithResult(ctx, cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteWithResult runs a function with circuit breaker protection and returns its result
func ExecuteWithResult[T any](ctx context.Context, cb *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if !cb.allowRequest() {
		return zero, errors.Wrap(ErrOpen, errors.ErrorTypeNetwork, "circuit_breaker",
			"rejecting call").
			WithContext("breaker", cb.config.Name).
			WithContext("state", cb.GetState().String())
	}

	result, err := fn()
	// cancellation says nothing about the daemon's health
	if err != nil && ctx.Err() != nil {
		return result, err
	}
	cb.recordResult(err)
	return result, err
}

func (cb *Breaker) allowRequest() bool {
	cb.mutex.Lock()
	now := cb.now()
	from := cb.state
	allowed := false

	switch cb.state {
	case StateClosed:
		if now.Sub(cb.lastResetTime) > cb.config.ResetTimeout {
			cb.failures = 0
			cb.lastResetTime = now
		}
		allowed = true
	case StateOpen:
		if now.Sub(cb.lastFailTime) > cb.config.Timeout {
			cb.state = StateHalfOpen
			cb.successes = 0
			allowed = true
		}
	case StateHalfOpen:
		allowed = true
	}
	to := cb.state
	cb.mutex.Unlock()

	cb.notify(from, to)
	return allowed
}

func (cb *Breaker) recordResult(err error) {
	cb.mutex.Lock()
	now := cb.now()
	from := cb.state

	if err != nil {
		cb.failures++
		cb.lastFailTime = now
		if (cb.state == StateClosed && cb.failures >= cb.config.MaxFailures) || cb.state == StateHalfOpen {
			cb.state = StateOpen
			cb.successes = 0
		}
	} else {
		cb.lastSuccess = now
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessRequired {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
			cb.lastResetTime = now
		}
	}
	to := cb.state
	cb.mutex.Unlock()

	cb.notify(from, to)
}

func (cb *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	cb.mutex.RLock()
	fn := cb.config.OnStateChange
	cb.mutex.RUnlock()
	if fn != nil {
		fn(cb.config.Name, from, to)
	}
}

// Watch replaces the transition callback of a breaker owned by a client.
func (cb *Breaker) Watch(fn func(name string, from, to State)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.config.OnStateChange = fn
}

// GetState returns the current state of the circuit breaker
func (cb *Breaker) GetState() State {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// SinceSuccess reports how long ago the last successful call completed.
// Before any call it measures from construction.
func (cb *Breaker) SinceSuccess() time.Duration {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.now().Sub(cb.lastSuccess)
}

// Stats represents circuit breaker statistics
type Stats struct {
	State        State
	Failures     int
	Successes    int
	LastFailTime time.Time
	LastSuccess  time.Time
}

// GetStats returns statistics about the circuit breaker
func (cb *Breaker) GetStats() Stats {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return Stats{
		State:        cb.state,
		Failures:     cb.failures,
		Successes:    cb.successes,
		LastFailTime: cb.lastFailTime,
		LastSuccess:  cb.lastSuccess,
	}
}
