// Package resilience guards calls to optional downstream services with a
// three-state circuit breaker so a dead dependency costs one fast failure
// per call instead of a full timeout.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speech-analytics-service/internal/observability/logging"
)

// ErrCircuitOpen is returned by Execute while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's operating mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// BreakerConfig tunes a Breaker. Zero fields take defaults.
type BreakerConfig struct {
	Name         string
	MaxFailures  int           // consecutive failures that open the breaker (5)
	ResetTimeout time.Duration // time spent open before probing (30s)
	HalfOpenMax  int           // successful probes needed to close (1)
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg    BreakerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int // probes admitted in the current half-open window
	passed   int // successful probes in the current half-open window
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{
		cfg:    cfg,
		logger: logging.WithComponent("resilience").With().Str("breaker", cfg.Name).Logger(),
		now:    time.Now,
	}
}

// Execute runs fn when the breaker admits the call. Cancellation by the
// caller's own context is not counted as a downstream failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		b.release(probe)
		return err
	}
	b.record(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes, b.passed = 0, 0
		b.logger.Info().Msg("Circuit breaker half-open, probing downstream")
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		b.probes++
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}
	b.mu.Unlock()
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		if probe || b.state == StateHalfOpen {
			b.trip("probe failed")
			return
		}
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
			b.trip("consecutive failures")
		}
		return
	}

	if probe && b.state == StateHalfOpen {
		b.passed++
		if b.passed >= b.cfg.HalfOpenMax {
			b.state = StateClosed
			b.failures = 0
			b.logger.Info().Msg("Circuit breaker closed")
		}
		return
	}
	b.failures = 0
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.openedAt = b.now()
	b.logger.Warn().
		Str("reason", reason).
		Int("failures", b.failures).
		Dur("resetTimeout", b.cfg.ResetTimeout).
		Msg("Circuit breaker opened")
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.state = StateClosed
	b.failures, b.probes, b.passed = 0, 0, 0
	b.mu.Unlock()
}
