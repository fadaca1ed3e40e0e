package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(chunks ...string) <-chan string {
	ch := make(chan string, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func drain(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var out []string
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{
			name:   "pure deltas pass through",
			chunks: []string{"Hello", ", ", "world"},
			want:   []string{"Hello", ", ", "world"},
		},
		{
			name:   "cumulative prefixes are diffed",
			chunks: []string{"Hello", "Hello, ", "Hello, world"},
			want:   []string{"Hello", ", ", "world"},
		},
		{
			name:   "repeated cumulative chunk yields nothing new",
			chunks: []string{"abc", "abc", "abcdef"},
			want:   []string{"abc", "def"},
		},
		{
			name:   "empty stream",
			chunks: nil,
			want:   nil,
		},
		{
			name:   "single chunk",
			chunks: []string{"whole response"},
			want:   []string{"whole response"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := drain(t, Normalize(context.Background(), feed(tt.chunks...)))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan string)
	out := Normalize(ctx, in)

	in <- "first"
	require.Equal(t, "first", <-out)

	cancel()
	select {
	case _, ok := <-out:
		assert.False(t, ok, "stream should be closed after cancellation")
	case <-time.After(time.Second):
		t.Fatal("normalized stream did not close after cancellation")
	}
}

func TestCollect(t *testing.T) {
	text, err := Collect(context.Background(), feed("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, "abc", text)
}

func TestCollectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan string, 1)
	in <- "partial"

	done := make(chan struct{})
	var text string
	var err error
	go func() {
		defer close(done)
		text, err = Collect(ctx, in)
	}()

	// Let Collect consume the buffered chunk, then cancel.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	require.Error(t, err)
	assert.Equal(t, "partial", text)
}
