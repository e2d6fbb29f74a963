// Package circuitbreaker guards the proxy's outbound agent calls: a node
// whose upstream transport keeps failing is fast-failed for a cooldown
// window instead of burning the full upstream timeout on every request.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker's position in its state machine.
type State int

const (
	// StateClosed passes calls through normally.
	StateClosed State = iota
	// StateOpen fast-fails every call until ResetTimeout elapses.
	StateOpen
	// StateHalfOpen lets a bounded number of probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config tunes one breaker.
type Config struct {
	// Threshold is the consecutive-failure count that opens the breaker.
	Threshold int

	// ResetTimeout is how long the breaker stays Open before allowing
	// half-open probes.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls bounds concurrent probe calls while HalfOpen.
	HalfOpenMaxCalls int

	// OnStateChange, if set, is invoked on every transition.
	OnStateChange func(from State, to State)
}

// DefaultConfig returns the configuration used for per-node upstream
// transports.
func DefaultConfig() *Config {
	return &Config{
		Threshold:        5,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreaker wraps calls with failure tracking and fast-fail.
type CircuitBreaker interface {
	// Call runs fn unless the breaker is Open, in which case
	// ErrCircuitOpen is returned without invoking fn.
	Call(ctx context.Context, fn func() error) error

	// State returns the current state.
	State() State

	// Reset forces the breaker Closed.
	Reset()
}

type breaker struct {
	config *Config
	logger *zap.Logger

	mu                sync.RWMutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	halfOpenCallCount int
}

// New creates a breaker. A nil config uses DefaultConfig.
func New(config *Config, logger *zap.Logger) CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 3
	}

	return &breaker{
		config: config,
		logger: logger,
		state:  StateClosed,
	}
}

func (b *breaker) Call(ctx context.Context, fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		// A cancelled caller is not evidence against the node.
		b.afterCall(true)
		return err
	}

	err := fn()
	b.afterCall(err == nil)
	return err
}

func (b *breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailureTime) > b.config.ResetTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenCallCount = 0
			b.logger.Info("circuit breaker half-open")
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if b.halfOpenCallCount >= b.config.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCallCount++
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state: %v", b.state)
	}
}

func (b *breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		b.logger.Info("circuit breaker recovered",
			zap.Int("half_open_calls", b.halfOpenCallCount),
		)
		b.setState(StateClosed)
		b.failureCount = 0
		b.halfOpenCallCount = 0

	case StateOpen:
		b.logger.Warn("success reported while circuit breaker open")
	}
}

func (b *breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.logger.Warn("circuit breaker opened",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.Threshold),
			)
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		b.logger.Warn("half-open probe failed, reopening",
			zap.Int("half_open_calls", b.halfOpenCallCount),
		)
		b.setState(StateOpen)
		b.halfOpenCallCount = 0

	case StateOpen:
	}
}

// setState must be called with b.mu held.
func (b *breaker) setState(newState State) {
	oldState := b.state
	b.state = newState

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

func (b *breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenCallCount = 0

	b.logger.Info("circuit breaker reset", zap.String("from_state", oldState.String()))

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, StateClosed)
	}
}

var (
	// ErrCircuitOpen is returned when a call is fast-failed.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrTooManyCallsInHalfOpen is returned when the half-open probe
	// budget is exhausted.
	ErrTooManyCallsInHalfOpen = errors.New("too many calls in half-open state")
)
