// Package health tracks liveness and latency of generation backends. A
// Monitor probes every registered backend on a fixed interval, independently
// and concurrently, and callers feed live request outcomes into the same
// records. Probe failures never propagate; they only update state.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/johnhenry/ai.captain-sub000/model"
)

// Status is a backend's health state. Backends start Unknown and move to
// Healthy or Unhealthy on the first probe or reported outcome.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Record is the health bookkeeping for one backend.
type Record struct {
	Status      Status
	Latency     time.Duration
	LastCheckAt time.Time
	ErrorCount  int
	LastError   string
}

// Healthy reports whether the backend passed its most recent check.
func (r Record) Healthy() bool { return r.Status == StatusHealthy }

// DefaultCheckInterval is the probe cadence when none is configured.
const DefaultCheckInterval = 30 * time.Second

// DefaultProbeTimeout bounds a single probe call.
const DefaultProbeTimeout = 5 * time.Second

type entry struct {
	backend model.Backend
	record  Record
	order   int
	cancel  context.CancelFunc
}

// Monitor owns the health map for a set of named backends. All methods are
// safe for concurrent use; record updates are atomic per backend.
type Monitor struct {
	mu       sync.RWMutex
	backends map[string]*entry
	nextOrd  int

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	once         sync.Once
	interval     time.Duration
	probeTimeout time.Duration
	logger       *zap.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the probe cadence. Defaults to DefaultCheckInterval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithProbeTimeout bounds each probe call. Defaults to DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.probeTimeout = d }
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor returns a Monitor with no backends registered. The parent
// context bounds the lifetime of every probe loop.
func NewMonitor(parent context.Context, opts ...Option) *Monitor {
	ctx, cancel := context.WithCancel(parent)
	m := &Monitor{
		backends:     make(map[string]*entry),
		ctx:          ctx,
		cancel:       cancel,
		interval:     DefaultCheckInterval,
		probeTimeout: DefaultProbeTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a backend and starts its probe loop. Registering an existing
// name replaces the backend and resets its record.
func (m *Monitor) Register(name string, b model.Backend) {
	loopCtx, loopCancel := context.WithCancel(m.ctx)

	m.mu.Lock()
	if old, ok := m.backends[name]; ok {
		old.cancel()
	}
	e := &entry{backend: b, order: m.nextOrd, cancel: loopCancel}
	m.nextOrd++
	m.backends[name] = e
	m.mu.Unlock()

	m.wg.Add(1)
	go m.probeLoop(loopCtx, name, b)
}

// Deregister stops probing a backend and drops its record.
func (m *Monitor) Deregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.backends[name]; ok {
		e.cancel()
		delete(m.backends, name)
	}
}

// Backend returns the registered backend by name.
func (m *Monitor) Backend(name string) (model.Backend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.backends[name]
	if !ok {
		return nil, false
	}
	return e.backend, true
}

// Record returns the current health record for a backend.
func (m *Monitor) Record(name string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.backends[name]
	if !ok {
		return Record{}, false
	}
	return e.record, true
}

// Records returns a snapshot of every backend's record keyed by name.
func (m *Monitor) Records() map[string]Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(m.backends))
	for name, e := range m.backends {
		out[name] = e.record
	}
	return out
}

// RankHealthyAlternates returns the names of healthy backends ordered by
// ascending probe latency, ties broken by registration order. Names listed in
// exclude (typically the primary) are skipped. Empty when nothing is healthy.
func (m *Monitor) RankHealthyAlternates(exclude ...string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}

	type candidate struct {
		name    string
		latency time.Duration
		order   int
	}

	m.mu.RLock()
	candidates := make([]candidate, 0, len(m.backends))
	for name, e := range m.backends {
		if _, excluded := skip[name]; excluded {
			continue
		}
		if !e.record.Healthy() {
			continue
		}
		candidates = append(candidates, candidate{name, e.record.Latency, e.order})
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].latency != candidates[j].latency {
			return candidates[i].latency < candidates[j].latency
		}
		return candidates[i].order < candidates[j].order
	})

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names
}

// ReportSuccess feeds a live call's success into the backend's record.
func (m *Monitor) ReportSuccess(name string, latency time.Duration) {
	m.update(name, latency, nil)
}

// ReportFailure feeds a live call's failure into the backend's record.
func (m *Monitor) ReportFailure(name string, err error) {
	m.update(name, 0, err)
}

// ForceCheck probes a backend immediately, outside the regular cadence.
func (m *Monitor) ForceCheck(name string) {
	m.mu.RLock()
	e, ok := m.backends[name]
	m.mu.RUnlock()
	if ok {
		m.probe(m.ctx, name, e.backend)
	}
}

// Close stops all probe loops and waits for them to exit.
func (m *Monitor) Close() {
	m.once.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}

func (m *Monitor) probeLoop(ctx context.Context, name string, b model.Backend) {
	defer m.wg.Done()

	m.probe(ctx, name, b)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx, name, b)
		}
	}
}

// probe issues a lightweight synthetic call (Capabilities) and folds the
// outcome into the record. Never returns an error.
func (m *Monitor) probe(ctx context.Context, name string, b model.Backend) {
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	caps, err := b.Capabilities(pctx)
	latency := time.Since(start)

	if err == nil && caps.Availability == model.AvailabilityUnavailable {
		err = model.ErrUnavailable
	}
	m.update(name, latency, err)
}

// update applies one probe or live-call outcome atomically. A success resets
// the error count; a failure leaves the last good latency in place.
func (m *Monitor) update(name string, latency time.Duration, err error) {
	now := time.Now()

	m.mu.Lock()
	e, ok := m.backends[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	prev := e.record.Status
	if err != nil {
		e.record.Status = StatusUnhealthy
		e.record.ErrorCount++
		e.record.LastError = err.Error()
	} else {
		e.record.Status = StatusHealthy
		e.record.Latency = latency
		e.record.ErrorCount = 0
		e.record.LastError = ""
	}
	e.record.LastCheckAt = now
	next := e.record.Status
	m.mu.Unlock()

	if prev != next {
		m.logger.Info("backend health changed",
			zap.String("backend", name),
			zap.Stringer("from", prev),
			zap.Stringer("to", next),
			zap.Error(err),
		)
	}
}
