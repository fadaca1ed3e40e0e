package captain

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnhenry/ai.captain-sub000/cache"
	"github.com/johnhenry/ai.captain-sub000/fallback"
	"github.com/johnhenry/ai.captain-sub000/model"
	"github.com/johnhenry/ai.captain-sub000/template"
)

func testClient(t *testing.T, primary model.Backend, opts ...ClientOption) *Client {
	t.Helper()
	cfg := fallback.DefaultConfig()
	cfg.Timeout = time.Second
	cfg.HealthCheckInterval = time.Hour
	cfg.RetryBaseDelay = time.Millisecond
	c, err := NewClient(context.Background(), primary, append([]ClientOption{WithFallback(cfg)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientGenerate(t *testing.T) {
	primary := model.NewScript("primary", model.WithEcho())
	c := testClient(t, primary)

	out, err := c.Generate(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestClientGenerateCached(t *testing.T) {
	primary := model.NewScript("primary", model.WithEcho())
	store, err := cache.NewMemory(context.Background())
	require.NoError(t, err)
	c := testClient(t, primary, WithCache(store, time.Minute))

	out, hit, err := c.GenerateCached(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "hello", out)
	assert.Equal(t, 1, primary.Calls())

	out, hit, err = c.GenerateCached(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "hello", out)
	assert.Equal(t, 1, primary.Calls())

	// Different options never alias the same cache entry.
	temp := 0.9
	_, hit, err = c.GenerateCached(context.Background(), "hello", &model.Options{Temperature: &temp})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, primary.Calls())
}

func TestClientGenerateCachedFailureNotCached(t *testing.T) {
	boom := errors.New("flaky")
	primary := model.NewScript("primary", model.WithEcho(), model.WithFailures(1, boom))
	store, err := cache.NewMemory(context.Background())
	require.NoError(t, err)

	cfg := fallback.DefaultConfig()
	cfg.Strategies = nil
	cfg.Timeout = time.Second
	cfg.HealthCheckInterval = time.Hour
	c, err := NewClient(context.Background(), primary,
		WithFallback(cfg), WithCache(store, time.Minute))
	require.NoError(t, err)
	defer c.Close()

	_, _, err = c.GenerateCached(context.Background(), "hello", nil)
	require.Error(t, err)

	// The failure was not cached: the next call reaches the backend.
	out, hit, err := c.GenerateCached(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "hello", out)
}

func TestClientGenerateCachedWithoutStore(t *testing.T) {
	primary := model.NewScript("primary", model.WithEcho())
	c := testClient(t, primary)

	_, _, err := c.GenerateCached(context.Background(), "hello", nil)
	assert.True(t, errors.Is(err, ErrNoCache))
}

func TestClientRenderAndGenerate(t *testing.T) {
	primary := model.NewScript("primary", model.WithEcho())
	reg := template.NewRegistry()
	require.NoError(t, reg.Register(template.Template{
		Name:     "summarize",
		Content:  "Summarize in {{style}} style: {{text}}",
		Defaults: map[string]string{"style": "plain"},
	}))
	c := testClient(t, primary, WithTemplates(reg))

	out, err := c.RenderAndGenerate(context.Background(), "summarize",
		map[string]string{"text": "some passage"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Summarize in plain style: some passage", out)

	_, err = c.RenderAndGenerate(context.Background(), "missing", nil, nil)
	assert.True(t, errors.Is(err, template.ErrNotFound))
}

func TestClientStream(t *testing.T) {
	primary := model.NewScript("primary", model.WithChunks(func(string) []string {
		return []string{"a", "ab", "abc"}
	}))
	c := testClient(t, primary)

	stream, err := c.GenerateStream(context.Background(), "hi", nil)
	require.NoError(t, err)
	text, err := model.Collect(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, "abc", text)
}

func TestClientStats(t *testing.T) {
	primary := model.NewScript("primary", model.WithEcho())
	store, err := cache.NewMemory(context.Background())
	require.NoError(t, err)
	c := testClient(t, primary, WithCache(store, time.Minute))

	_, _, err = c.GenerateCached(context.Background(), "hello", nil)
	require.NoError(t, err)
	_, _, err = c.GenerateCached(context.Background(), "hello", nil)
	require.NoError(t, err)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Cache.Size)
	assert.Equal(t, int64(1), stats.Cache.Hits)
	assert.Contains(t, stats.Health, "primary")
	assert.Equal(t, 1, stats.Metrics["attempt.success.primary"].Count)
}
