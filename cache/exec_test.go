package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnhenry/ai.captain-sub000/compress"
)

func TestExecCachesResult(t *testing.T) {
	ctx := context.Background()
	s := newMemory(t)

	invocations := 0
	invoke := func(ctx context.Context) (string, bool, error) {
		invocations++
		return "generated", true, nil
	}

	for i := 0; i < 3; i++ {
		found, val, err := Exec(ctx, ExecConfig{Key: "k", TTL: time.Minute}, s, invoke)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "generated", val)
	}
	assert.Equal(t, 1, invocations, "cache hits must not re-invoke")
}

func TestExecNotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	s := newMemory(t)

	invocations := 0
	invoke := func(ctx context.Context) (string, bool, error) {
		invocations++
		return "", false, nil
	}

	for i := 0; i < 2; i++ {
		found, _, err := Exec(ctx, ExecConfig{Key: "absent"}, s, invoke)
		require.NoError(t, err)
		assert.False(t, found)
	}
	assert.Equal(t, 2, invocations)
}

func TestExecPropagatesInvokeError(t *testing.T) {
	ctx := context.Background()
	s := newMemory(t)
	boom := errors.New("backend failed")

	_, _, err := Exec(ctx, ExecConfig{Key: "k"}, s, func(ctx context.Context) (int, bool, error) {
		return 0, false, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestExecCollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	s := newMemory(t)

	var invocations atomic.Int32
	invoke := func(ctx context.Context) (string, bool, error) {
		invocations.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "one answer", true, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			found, val, err := Exec(ctx, ExecConfig{Key: "same-prompt"}, s, invoke)
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "one answer", val)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), invocations.Load(), "concurrent misses should share one invocation")
}

func TestExecDoesNotCollapseAcrossStores(t *testing.T) {
	ctx := context.Background()
	s1 := newMemory(t)
	s2 := newMemory(t)

	// Both invokers must run: a miss on one store can never be served by a
	// value produced for another store.
	start := make(chan struct{})
	invoker := func(answer string, n *atomic.Int32) Invoker[string] {
		return func(ctx context.Context) (string, bool, error) {
			<-start
			n.Add(1)
			time.Sleep(20 * time.Millisecond)
			return answer, true, nil
		}
	}
	var ran1, ran2 atomic.Int32

	var wg sync.WaitGroup
	results := make([]string, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, results[0], _ = Exec(ctx, ExecConfig{Key: "shared"}, s1, invoker("one", &ran1))
	}()
	go func() {
		defer wg.Done()
		_, results[1], _ = Exec(ctx, ExecConfig{Key: "shared"}, s2, invoker("two", &ran2))
	}()
	close(start)
	wg.Wait()

	assert.Equal(t, "one", results[0])
	assert.Equal(t, "two", results[1])
	assert.Equal(t, int32(1), ran1.Load())
	assert.Equal(t, int32(1), ran2.Load())

	found, val, err := GetAs[string](ctx, s1, "shared")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "one", val)
}

func TestGetAsTyped(t *testing.T) {
	ctx := context.Background()

	type result struct {
		Text   string `json:"text"`
		Tokens int    `json:"tokens"`
	}

	// Codec-backed store: values come back JSON-typed, GetAs recovers the
	// struct.
	codec, err := compress.New(compress.WithThreshold(0))
	require.NoError(t, err)
	s := newMemory(t, WithCodec(codec))

	require.NoError(t, s.Set(ctx, "k", result{Text: "hi", Tokens: 2}, time.Minute))

	found, out, err := GetAs[result](ctx, s, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, result{Text: "hi", Tokens: 2}, out)
}

func TestGetAsDirectAssertion(t *testing.T) {
	ctx := context.Background()
	s := newMemory(t)

	require.NoError(t, s.Set(ctx, "k", "plain", time.Minute))
	found, out, err := GetAs[string](ctx, s, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "plain", out)
}
