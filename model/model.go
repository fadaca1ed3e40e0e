package model

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrUnavailable is returned when the host model cannot serve requests at all
// (for example the on-device weights are not installed).
var ErrUnavailable = errors.New("model: backend unavailable")

// Availability describes whether the host model is ready to serve requests.
type Availability string

const (
	AvailabilityReady         Availability = "ready"
	AvailabilityNeedsDownload Availability = "needsDownload"
	AvailabilityUnavailable   Availability = "unavailable"
)

// Capabilities reports what the host model supports and its default sampling
// parameters.
type Capabilities struct {
	Availability       Availability
	DefaultTemperature float64
	DefaultTopK        int
	MaxTopK            int
}

// Options carries per-request sampling parameters. Nil fields mean "use the
// backend default".
type Options struct {
	Temperature *float64
	TopK        *int
}

// Clone returns a copy of the options so callers can adjust a request without
// mutating shared configuration. Clone of nil returns nil.
func (o *Options) Clone() *Options {
	if o == nil {
		return nil
	}
	clone := &Options{}
	if o.Temperature != nil {
		t := *o.Temperature
		clone.Temperature = &t
	}
	if o.TopK != nil {
		k := *o.TopK
		clone.TopK = &k
	}
	return clone
}

// Backend is a named text-generation endpoint. Implementations wrap whatever
// the host environment provides (an on-device model, a remote API, a test
// double). Generate and GenerateStream must honor context cancellation.
type Backend interface {
	// Name identifies the backend in health records and metrics.
	Name() string

	// Generate produces a single-shot completion for the prompt.
	Generate(ctx context.Context, prompt string, opts *Options) (string, error)

	// GenerateStream produces a chunked completion. The returned channel is
	// closed when the stream ends or the context is cancelled. Chunks may be
	// pure deltas or cumulative prefixes; use Normalize to get deltas.
	GenerateStream(ctx context.Context, prompt string, opts *Options) (<-chan string, error)

	// Capabilities reports availability and default sampling parameters.
	// It doubles as a lightweight health probe.
	Capabilities(ctx context.Context) (Capabilities, error)
}
