package model

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Script is a deterministic Backend for tests and local experimentation. It
// answers with a configurable responder, can inject latency and failures, and
// counts calls.
type Script struct {
	name string

	mu       sync.Mutex
	calls    int
	latency  time.Duration
	respond  func(call int, prompt string) (string, error)
	failures int
	failErr  error
	chunks   func(prompt string) []string
	caps     Capabilities
	capsErr  error
}

var _ Backend = (*Script)(nil)

// ScriptOption configures a Script backend.
type ScriptOption func(*Script)

// WithLatency makes every call sleep for d before responding.
// The sleep is interrupted by context cancellation.
func WithLatency(d time.Duration) ScriptOption {
	return func(s *Script) { s.latency = d }
}

// WithResponder installs the response function. call is 1-based.
func WithResponder(fn func(call int, prompt string) (string, error)) ScriptOption {
	return func(s *Script) { s.respond = fn }
}

// WithEcho makes the backend echo the prompt back.
func WithEcho() ScriptOption {
	return WithResponder(func(_ int, prompt string) (string, error) {
		return prompt, nil
	})
}

// WithFailures fails the first n calls, then responds normally. Failure
// injection is checked before the responder runs, so it composes with
// WithEcho and WithResponder in any option order.
func WithFailures(n int, err error) ScriptOption {
	return func(s *Script) {
		s.failures = n
		s.failErr = err
	}
}

// WithChunks installs the streaming chunk function. By default a stream
// emits the single-shot response as one chunk.
func WithChunks(fn func(prompt string) []string) ScriptOption {
	return func(s *Script) { s.chunks = fn }
}

// WithCapabilities overrides the reported capabilities.
func WithCapabilities(caps Capabilities) ScriptOption {
	return func(s *Script) { s.caps = caps }
}

// WithCapabilitiesError makes Capabilities fail, which marks the backend
// unhealthy to probes.
func WithCapabilitiesError(err error) ScriptOption {
	return func(s *Script) { s.capsErr = err }
}

// NewScript returns a scripted backend with the given name. Without options
// it reports itself ready and answers "ok" to everything.
func NewScript(name string, opts ...ScriptOption) *Script {
	s := &Script{
		name: name,
		caps: Capabilities{
			Availability:       AvailabilityReady,
			DefaultTemperature: 1.0,
			DefaultTopK:        3,
			MaxTopK:            8,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.respond == nil {
		s.respond = func(int, string) (string, error) { return "ok", nil }
	}
	return s
}

func (s *Script) Name() string { return s.name }

// Calls returns how many Generate calls the backend has received.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Script) Generate(ctx context.Context, prompt string, _ *Options) (string, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	latency := s.latency
	respond := s.respond
	failures := s.failures
	failErr := s.failErr
	s.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if call <= failures {
		return "", failErr
	}
	return respond(call, prompt)
}

func (s *Script) GenerateStream(ctx context.Context, prompt string, opts *Options) (<-chan string, error) {
	s.mu.Lock()
	chunker := s.chunks
	s.mu.Unlock()

	var parts []string
	if chunker != nil {
		parts = chunker(prompt)
	} else {
		text, err := s.Generate(ctx, prompt, opts)
		if err != nil {
			return nil, err
		}
		parts = []string{text}
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for _, part := range parts {
			select {
			case <-ctx.Done():
				return
			case out <- part:
			}
		}
	}()
	return out, nil
}

func (s *Script) Capabilities(_ context.Context) (Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capsErr != nil {
		return Capabilities{}, s.capsErr
	}
	if s.caps.Availability == AvailabilityUnavailable {
		return s.caps, errors.Wrapf(ErrUnavailable, "backend %s", s.name)
	}
	return s.caps, nil
}
