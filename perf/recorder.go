// Package perf collects rolling numeric samples per named metric and computes
// aggregate statistics on read. It backs latency and outcome accounting for
// the fallback coordinator and is safe for concurrent use.
package perf

import (
	"math"
	"sort"
	"sync"
	"time"
)

type sample struct {
	value float64
	at    time.Time
}

// Stats is the aggregate view of one metric series. All fields are zero for
// an unknown or empty metric.
type Stats struct {
	Count    int
	Average  float64
	Min      float64
	Max      float64
	Variance float64
	StdDev   float64
}

// Recorder stores timestamped samples per metric name. Aggregation happens on
// read and is never stored.
type Recorder struct {
	mu     sync.RWMutex
	series map[string][]sample
	window time.Duration
	now    func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithWindow caps sample retention by age. Samples older than d are dropped
// on the next write to their series and ignored by Stats. Zero (the default)
// retains samples indefinitely.
func WithWindow(d time.Duration) Option {
	return func(r *Recorder) { r.window = d }
}

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder returns an empty Recorder.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		series: make(map[string][]sample),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends a timestamped sample to the named series.
func (r *Recorder) Record(name string, value float64) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	s := append(r.series[name], sample{value: value, at: now})
	if r.window > 0 {
		cutoff := now.Add(-r.window)
		i := 0
		for i < len(s) && s[i].at.Before(cutoff) {
			i++
		}
		s = s[i:]
	}
	r.series[name] = s
}

// Stats computes aggregates for the named series. Unknown or empty series
// yield a zero-valued Stats, never an error.
func (r *Recorder) Stats(name string) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.series[name]
	if r.window > 0 {
		cutoff := r.now().Add(-r.window)
		for len(s) > 0 && s[0].at.Before(cutoff) {
			s = s[1:]
		}
	}
	if len(s) == 0 {
		return Stats{}
	}

	st := Stats{
		Count: len(s),
		Min:   s[0].value,
		Max:   s[0].value,
	}
	var sum float64
	for _, smp := range s {
		sum += smp.value
		if smp.value < st.Min {
			st.Min = smp.value
		}
		if smp.value > st.Max {
			st.Max = smp.value
		}
	}
	st.Average = sum / float64(st.Count)

	var sq float64
	for _, smp := range s {
		d := smp.value - st.Average
		sq += d * d
	}
	st.Variance = sq / float64(st.Count)
	st.StdDev = math.Sqrt(st.Variance)
	return st
}

// Metrics returns the known metric names, sorted.
func (r *Recorder) Metrics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.series))
	for name := range r.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears the named series, or every series when called with no names.
func (r *Recorder) Reset(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(names) == 0 {
		r.series = make(map[string][]sample)
		return
	}
	for _, name := range names {
		delete(r.series, name)
	}
}
