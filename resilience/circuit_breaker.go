package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

var (
	// ErrBreakerOpen is returned when the circuit is open and calls are
	// being shed.
	ErrBreakerOpen = errors.New("resilience: circuit breaker open")
	// ErrBreakerTimeout is returned when a guarded call exceeds the
	// breaker's request timeout.
	ErrBreakerTimeout = errors.New("resilience: request timed out")
)

// BreakerState is the circuit state.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// MaxFailures is the consecutive failure count that opens the circuit.
	MaxFailures int

	// CoolDown is how long the circuit stays open before permitting a
	// half-open trial call.
	CoolDown time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// needed to close the circuit again.
	SuccessThreshold int

	// RequestTimeout bounds a single guarded call. Zero disables the bound.
	RequestTimeout time.Duration
}

// DefaultBreakerConfig suits a local model backend: trip fast, recover fast.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:      5,
		CoolDown:         30 * time.Second,
		SuccessThreshold: 2,
		RequestTimeout:   10 * time.Second,
	}
}

// Breaker guards one named generation backend. When the backend fails
// MaxFailures times in a row the circuit opens and calls are rejected with
// ErrBreakerOpen until CoolDown elapses; then a limited number of trial calls
// decide whether to close it again.
type Breaker struct {
	name   string
	config BreakerConfig
	logger *zap.Logger

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	trialActive bool
	openedAt    time.Time
}

// NewBreaker returns a closed Breaker for the named backend.
func NewBreaker(name string, config BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:   name,
		config: config,
		logger: logger,
	}
}

// Execute runs fn under the breaker, racing it against RequestTimeout.
// A timed-out call counts as a failure but fn keeps running in the
// background; its eventual result is discarded.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	var timeout <-chan time.Time
	if b.config.RequestTimeout > 0 {
		timer := time.NewTimer(b.config.RequestTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		b.after(err == nil)
		return err
	case <-ctx.Done():
		b.after(false)
		return ctx.Err()
	case <-timeout:
		b.after(false)
		return errors.Wrapf(ErrBreakerTimeout, "backend %s", b.name)
	}
}

// Allow reports whether a call may proceed right now without running one.
// Used by streaming paths that cannot funnel through Execute.
func (b *Breaker) Allow() bool {
	if err := b.before(); err != nil {
		return false
	}
	// Not a real call; release the half-open trial slot if we took it.
	b.mu.Lock()
	b.trialActive = false
	b.mu.Unlock()
	return true
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if time.Since(b.openedAt) < b.config.CoolDown {
			return errors.Wrapf(ErrBreakerOpen, "backend %s", b.name)
		}
		b.transition(BreakerHalfOpen)
		b.successes = 0
		b.trialActive = true
		return nil
	case BreakerHalfOpen:
		if b.trialActive {
			return errors.Wrapf(ErrBreakerOpen, "backend %s trial in flight", b.name)
		}
		b.trialActive = true
		return nil
	default:
		return errors.Wrapf(ErrBreakerOpen, "backend %s", b.name)
	}
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.config.MaxFailures {
			b.transition(BreakerOpen)
			b.openedAt = time.Now()
		}
	case BreakerHalfOpen:
		b.trialActive = false
		if !success {
			b.transition(BreakerOpen)
			b.openedAt = time.Now()
			b.successes = 0
			return
		}
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(BreakerClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

// transition logs and applies a state change. Caller holds the lock.
func (b *Breaker) transition(next BreakerState) {
	if b.state == next {
		return
	}
	b.logger.Info("circuit breaker state changed",
		zap.String("backend", b.name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", next),
	)
	b.state = next
}

// State returns the current circuit state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the circuit closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(BreakerClosed)
	b.failures = 0
	b.successes = 0
	b.trialActive = false
}
