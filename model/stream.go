package model

import (
	"context"
	"strings"
)

// Normalize converts a chunk stream into a pure-delta stream. Some hosts emit
// each chunk as the full text generated so far (a cumulative prefix) while
// others emit only the newly generated piece. Normalize detects the cumulative
// shape per chunk: a chunk that extends everything emitted so far is treated
// as cumulative and only its suffix is forwarded, anything else is forwarded
// as a delta.
//
// The returned channel is closed when the input closes or the context is
// cancelled.
func Normalize(ctx context.Context, in <-chan string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		var acc strings.Builder
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-in:
				if !ok {
					return
				}
				delta := chunk
				if acc.Len() > 0 && len(chunk) >= acc.Len() && strings.HasPrefix(chunk, acc.String()) {
					delta = chunk[acc.Len():]
					acc.Reset()
					acc.WriteString(chunk)
				} else {
					acc.WriteString(chunk)
				}
				if delta == "" {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- delta:
				}
			}
		}
	}()
	return out
}

// Collect drains a delta stream into the final text. It stops early if the
// context is cancelled, returning what was received so far along with the
// context error.
func Collect(ctx context.Context, in <-chan string) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case chunk, ok := <-in:
			if !ok {
				return sb.String(), nil
			}
			sb.WriteString(chunk)
		}
	}
}
