// Package resiliency provides the circuit breaker guarding every external
// dependency of the decision path (cache reads/writes, audit persistence,
// the rule evaluator).
package resiliency

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without attempting it.
// Callers interpret it distinctly from downstream failures.
var ErrOpen = errors.New("resiliency: circuit breaker open")

// State is the breaker state machine position.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config tunes a breaker. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold opens the breaker after this many consecutive
	// failures within the monitor window.
	FailureThreshold int
	// SuccessThreshold closes a half-open breaker after this many
	// consecutive successes.
	SuccessThreshold int
	// ResetTimeout is how long an open breaker waits before probing.
	ResetTimeout time.Duration
	// MonitorWindow bounds how long failures accumulate toward the
	// failure threshold.
	MonitorWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.MonitorWindow <= 0 {
		c.MonitorWindow = 60 * time.Second
	}
	return c
}

// Breaker is a per-dependency circuit breaker.
// CLOSED → OPEN after N consecutive failures inside the monitor window;
// OPEN → HALF_OPEN after the reset timeout; HALF_OPEN → CLOSED after K
// consecutive successes, or back to OPEN on any failure.
type Breaker struct {
	mu sync.Mutex

	name   string
	cfg    Config
	logger *slog.Logger
	clock  func() time.Time

	state        State
	failures     int
	successes    int
	firstFailure time.Time
	openedAt     time.Time
}

// New creates a breaker for the named dependency.
func New(name string, cfg Config, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "breaker", "dependency", name),
		clock:  time.Now,
		state:  StateClosed,
	}
}

// WithClock overrides the clock for deterministic testing.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.clock().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked() != StateOpen
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	switch b.stateLocked() {
	case StateHalfOpen:
		b.transition(StateOpen)
		b.openedAt = now
	case StateClosed:
		if b.failures == 0 || now.Sub(b.firstFailure) > b.cfg.MonitorWindow {
			b.failures = 0
			b.firstFailure = now
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
			b.openedAt = now
		}
	}
}

// Execute runs fn under the breaker. Returns ErrOpen without calling fn
// when the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(ctx); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.failures = 0
	b.successes = 0
	b.logger.Info("circuit breaker state change", "from", string(prev), "to", string(next))
}
