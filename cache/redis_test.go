package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnhenry/ai.captain-sub000/compress"
)

func newRedisStore(t *testing.T, opts ...Option) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, err := NewRedis(client, opts...)
	require.NoError(t, err)
	return s, mr
}

func TestRedisSetGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t, WithPrefix("captain"))

	require.NoError(t, s.Set(ctx, "k", "hello", time.Minute))

	found, val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello", val)

	found, _, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, s.Set(ctx, "k", "v", 100*time.Millisecond))
	mr.FastForward(time.Second)

	found, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCodecRoundTrip(t *testing.T) {
	ctx := context.Background()
	codec, err := compress.New(compress.WithAlgorithm(compress.RLE), compress.WithThreshold(4))
	require.NoError(t, err)
	s, _ := newRedisStore(t, WithCodec(codec), WithPrefix("captain"))

	require.NoError(t, s.Set(ctx, "k", "a generation result worth compressing", time.Minute))

	found, val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a generation result worth compressing", val)
}

func TestRedisDeleteClearStats(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t, WithPrefix("captain"))

	require.NoError(t, s.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, s.Set(ctx, "b", 2, time.Minute))

	_, _, _ = s.Get(ctx, "a")
	_, _, _ = s.Get(ctx, "nope")

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Size)
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, 0.5, st.HitRate)

	ok, err := s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Clear(ctx))
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Size)
	assert.Equal(t, int64(0), st.Hits)
}

func TestRedisDefaultTTLApplied(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, WithTTL(time.Minute), WithPrefix("p"))

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	ttl := mr.TTL("p:k")
	assert.Greater(t, ttl, time.Duration(0))
}
