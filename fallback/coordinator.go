// Package fallback executes generation requests against a primary backend,
// applying an ordered chain of recovery strategies when the primary fails,
// with every attempt raced against a per-attempt timeout.
package fallback

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/johnhenry/ai.captain-sub000/health"
	"github.com/johnhenry/ai.captain-sub000/model"
	"github.com/johnhenry/ai.captain-sub000/perf"
	"github.com/johnhenry/ai.captain-sub000/resilience"
)

var (
	// ErrTimeout marks an attempt that exceeded the per-attempt bound.
	ErrTimeout = errors.New("fallback: attempt timed out")
	// ErrAborted marks a caller cancellation. Fatal: it bypasses the
	// strategy chain and is never retried.
	ErrAborted = errors.New("fallback: aborted by caller")
	// ErrBackendFailure marks an error produced by a backend call.
	ErrBackendFailure = errors.New("fallback: backend failure")
	// ErrExhausted marks an execution whose every configured strategy
	// failed. The wrapped cause is the primary's original error.
	ErrExhausted = errors.New("fallback: all strategies exhausted")
	// ErrNoHealthyAlternate is raised by StrategyAlternate when the
	// health monitor knows no healthy alternate.
	ErrNoHealthyAlternate = errors.New("fallback: no healthy alternate")
)

// IsAborted reports whether an execution failed because the caller
// cancelled it.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

// Config fixes a Coordinator's behavior at construction. Reordering
// strategies requires constructing a new Coordinator.
type Config struct {
	// Strategies is the recovery chain, applied strictly in order. Each
	// strategy runs at most once per Execute. Empty means a single bare
	// attempt with timeout only.
	Strategies []Strategy

	// MaxAttempts bounds StrategyRetry's invocations of the primary.
	MaxAttempts int

	// Timeout is the per-attempt bound raced against every backend call.
	Timeout time.Duration

	// HealthCheckInterval is the probe cadence for the coordinator-owned
	// monitor. Ignored when a monitor is supplied via WithMonitor.
	HealthCheckInterval time.Duration

	// RetryBaseDelay is the backoff before StrategyRetry's first retry;
	// it doubles on each subsequent retry.
	RetryBaseDelay time.Duration

	// DegradeLimit is the rune budget for StrategyDegrade's simplified
	// prompt. Zero uses DefaultDegradeLimit.
	DegradeLimit int
}

// DefaultConfig runs retry, then alternate, then degrade.
func DefaultConfig() Config {
	return Config{
		Strategies:          []Strategy{StrategyRetry, StrategyAlternate, StrategyDegrade},
		MaxAttempts:         3,
		Timeout:             30 * time.Second,
		HealthCheckInterval: health.DefaultCheckInterval,
		RetryBaseDelay:      100 * time.Millisecond,
		DegradeLimit:        DefaultDegradeLimit,
	}
}

// Coordinator drives one primary backend with recovery. Concurrent Execute
// calls are independent; only the health monitor and the recorder are shared,
// and both tolerate concurrent updates.
type Coordinator struct {
	primary  model.Backend
	cfg      Config
	monitor  *health.Monitor
	ownsMon  bool
	recorder *perf.Recorder
	breaker  *resilience.Breaker
	logger   *zap.Logger
	tracer   trace.Tracer
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMonitor shares an externally owned health monitor. The coordinator
// registers its backends on it but does not close it.
func WithMonitor(m *health.Monitor) CoordinatorOption {
	return func(c *Coordinator) { c.monitor = m }
}

// WithRecorder shares an externally owned performance recorder.
func WithRecorder(r *perf.Recorder) CoordinatorOption {
	return func(c *Coordinator) { c.recorder = r }
}

// WithBreaker guards the primary behind a circuit breaker. Streaming calls
// are shed while the circuit is open.
func WithBreaker(b *resilience.Breaker) CoordinatorOption {
	return func(c *Coordinator) { c.breaker = b }
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator builds a Coordinator for the primary backend. alternates are
// registered with the health monitor and become candidates for
// StrategyAlternate. Construction fails on malformed configuration.
func NewCoordinator(ctx context.Context, primary model.Backend, alternates []model.Backend, cfg Config, opts ...CoordinatorOption) (*Coordinator, error) {
	if primary == nil {
		return nil, errors.New("fallback: primary backend is required")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("fallback: timeout must be positive")
	}
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("fallback: maxAttempts must be at least 1")
	}
	for _, s := range cfg.Strategies {
		switch s {
		case StrategyRetry, StrategyAlternate, StrategyDegrade:
		default:
			return nil, errors.Newf("fallback: unknown strategy %d", int(s))
		}
	}

	c := &Coordinator{
		primary: primary,
		cfg:     cfg,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("ai.captain/fallback"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.recorder == nil {
		c.recorder = perf.NewRecorder()
	}
	if c.monitor == nil {
		interval := cfg.HealthCheckInterval
		if interval <= 0 {
			interval = health.DefaultCheckInterval
		}
		c.monitor = health.NewMonitor(ctx,
			health.WithInterval(interval),
			health.WithLogger(c.logger),
		)
		c.ownsMon = true
	}

	c.monitor.Register(primary.Name(), primary)
	for _, alt := range alternates {
		c.monitor.Register(alt.Name(), alt)
	}
	return c, nil
}

// Monitor exposes the health monitor for inspection and live reports.
func (c *Coordinator) Monitor() *health.Monitor { return c.monitor }

// Recorder exposes the performance recorder.
func (c *Coordinator) Recorder() *perf.Recorder { return c.recorder }

// Close releases the coordinator-owned monitor. Shared monitors are left
// running.
func (c *Coordinator) Close() {
	if c.ownsMon {
		c.monitor.Close()
	}
}

// Execute runs the prompt against the primary, racing the per-attempt
// timeout, and walks the strategy chain on failure. When every strategy
// fails, the returned error surfaces the primary's original failure, marked
// with ErrExhausted.
func (c *Coordinator) Execute(ctx context.Context, prompt string, opts *model.Options) (string, error) {
	execID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "fallback.Execute",
		trace.WithAttributes(
			attribute.String("execution.id", execID),
			attribute.String("backend.primary", c.primary.Name()),
		))
	defer span.End()

	result, origErr := c.attemptPrimary(ctx, prompt, opts)
	if origErr == nil {
		return result, nil
	}
	if IsAborted(origErr) {
		return "", origErr
	}

	c.logger.Warn("primary attempt failed, walking fallback chain",
		zap.String("execution", execID),
		zap.String("backend", c.primary.Name()),
		zap.Error(origErr),
	)

	// Each strategy is consumed from a local working copy: tried at most
	// once per execution, strictly in configured order, and a strategy
	// failure only advances the chain.
	chain := slices.Clone(c.cfg.Strategies)
	for len(chain) > 0 {
		strategy := chain[0]
		chain = chain[1:]

		result, err := c.runStrategy(ctx, strategy, prompt, opts)
		if err == nil {
			span.AddEvent("recovered", trace.WithAttributes(
				attribute.String("strategy", strategy.String()),
			))
			return result, nil
		}
		if IsAborted(err) {
			return "", err
		}
		c.logger.Warn("fallback strategy failed",
			zap.String("execution", execID),
			zap.Stringer("strategy", strategy),
			zap.Error(err),
		)
	}

	// Surface the root cause, not the last strategy's error.
	return "", errors.Mark(errors.Wrap(origErr, "all fallback strategies exhausted"), ErrExhausted)
}

// runStrategy dispatches one strategy. A panic inside a strategy is
// converted into an error so the chain keeps moving.
func (c *Coordinator) runStrategy(ctx context.Context, s Strategy, prompt string, opts *model.Options) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("fallback: strategy %s panicked: %v", s, r)
		}
	}()

	ctx, span := c.tracer.Start(ctx, "fallback."+s.String())
	defer span.End()

	switch s {
	case StrategyRetry:
		return c.retryPrimary(ctx, prompt, opts)
	case StrategyAlternate:
		return c.tryAlternate(ctx, prompt, opts)
	case StrategyDegrade:
		degraded := degradePrompt(prompt, c.cfg.DegradeLimit)
		return c.attemptPrimary(ctx, degraded, opts)
	default:
		return "", errors.Newf("fallback: unknown strategy %d", int(s))
	}
}

// retryPrimary re-invokes the original operation up to MaxAttempts times
// with exponential backoff, stopping early on success.
func (c *Coordinator) retryPrimary(ctx context.Context, prompt string, opts *model.Options) (string, error) {
	var result string
	err := resilience.Retry(ctx, resilience.RetryConfig{
		MaxRetries:        c.cfg.MaxAttempts - 1,
		InitialBackoff:    c.cfg.RetryBaseDelay,
		BackoffMultiplier: 2.0,
		Jitter:            false,
		RetryableErrors: func(err error) bool {
			if err == nil || IsAborted(err) {
				return false
			}
			// Per-attempt timeouts stay retryable; an open breaker does not.
			return !errors.Is(err, resilience.ErrBreakerOpen)
		},
	}, func() error {
		var attemptErr error
		result, attemptErr = c.attemptPrimary(ctx, prompt, opts)
		return attemptErr
	})
	return result, err
}

// tryAlternate routes the same input to the best-ranked healthy alternate.
func (c *Coordinator) tryAlternate(ctx context.Context, prompt string, opts *model.Options) (string, error) {
	ranked := c.monitor.RankHealthyAlternates(c.primary.Name())
	if len(ranked) == 0 {
		return "", ErrNoHealthyAlternate
	}
	name := ranked[0]
	alt, ok := c.monitor.Backend(name)
	if !ok {
		return "", errors.Wrapf(ErrNoHealthyAlternate, "backend %s vanished", name)
	}
	return c.attempt(ctx, alt, prompt, opts)
}

func (c *Coordinator) attemptPrimary(ctx context.Context, prompt string, opts *model.Options) (string, error) {
	if c.breaker != nil {
		var result string
		err := c.breaker.Execute(ctx, func() error {
			var attemptErr error
			result, attemptErr = c.attempt(ctx, c.primary, prompt, opts)
			return attemptErr
		})
		return result, err
	}
	return c.attempt(ctx, c.primary, prompt, opts)
}

type outcome struct {
	text string
	err  error
}

// attempt races one backend call against the per-attempt timeout and feeds
// the outcome into the recorder and the health monitor.
func (c *Coordinator) attempt(ctx context.Context, b model.Backend, prompt string, opts *model.Options) (string, error) {
	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		text, err := b.Generate(actx, prompt, opts)
		done <- outcome{text: text, err: err}
	}()

	select {
	case out := <-done:
		latency := time.Since(start)
		if out.err != nil {
			if ctx.Err() != nil {
				c.record(b.Name(), false, latency, false)
				return "", errors.Mark(out.err, ErrAborted)
			}
			if errors.Is(out.err, context.DeadlineExceeded) {
				c.record(b.Name(), false, latency, true)
				c.monitor.ReportFailure(b.Name(), out.err)
				return "", errors.Mark(out.err, ErrTimeout)
			}
			c.record(b.Name(), false, latency, false)
			c.monitor.ReportFailure(b.Name(), out.err)
			return "", errors.Mark(out.err, ErrBackendFailure)
		}
		c.record(b.Name(), true, latency, false)
		c.monitor.ReportSuccess(b.Name(), latency)
		return out.text, nil

	case <-actx.Done():
		latency := time.Since(start)
		if ctx.Err() != nil {
			// The caller's context ended, not our per-attempt timer.
			c.record(b.Name(), false, latency, false)
			return "", errors.Mark(ctx.Err(), ErrAborted)
		}
		c.record(b.Name(), false, latency, true)
		err := errors.Wrapf(ErrTimeout, "backend %s exceeded %s", b.Name(), c.cfg.Timeout)
		c.monitor.ReportFailure(b.Name(), err)
		return "", err
	}
}

// record writes one attempt into the recorder: latency, success flag, and a
// timeout counter when applicable.
func (c *Coordinator) record(backend string, success bool, latency time.Duration, timedOut bool) {
	c.recorder.Record(fmt.Sprintf("attempt.latency_ms.%s", backend), float64(latency.Milliseconds()))
	outcomeVal := 0.0
	if success {
		outcomeVal = 1.0
	}
	c.recorder.Record(fmt.Sprintf("attempt.success.%s", backend), outcomeVal)
	if timedOut {
		c.recorder.Record(fmt.Sprintf("attempt.timeout.%s", backend), 1)
	}
}

// ExecuteStream opens a delta-normalized stream. Streams are not retried:
// the only recovery applied is backend selection (an unhealthy primary is
// replaced by the best healthy alternate) and breaker shedding.
func (c *Coordinator) ExecuteStream(ctx context.Context, prompt string, opts *model.Options) (<-chan string, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, resilience.ErrBreakerOpen
	}

	backend := c.primary
	if rec, ok := c.monitor.Record(c.primary.Name()); ok && rec.Status == health.StatusUnhealthy {
		ranked := c.monitor.RankHealthyAlternates(c.primary.Name())
		if len(ranked) > 0 {
			if alt, found := c.monitor.Backend(ranked[0]); found {
				backend = alt
			}
		}
	}

	raw, err := backend.GenerateStream(ctx, prompt, opts)
	if err != nil {
		c.monitor.ReportFailure(backend.Name(), err)
		if IsAborted(err) {
			return nil, errors.Mark(err, ErrAborted)
		}
		return nil, errors.Mark(err, ErrBackendFailure)
	}
	c.recorder.Record(fmt.Sprintf("stream.opened.%s", backend.Name()), 1)
	return model.Normalize(ctx, raw), nil
}
