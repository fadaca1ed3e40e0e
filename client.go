package captain

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/johnhenry/ai.captain-sub000/cache"
	"github.com/johnhenry/ai.captain-sub000/fallback"
	"github.com/johnhenry/ai.captain-sub000/health"
	"github.com/johnhenry/ai.captain-sub000/model"
	"github.com/johnhenry/ai.captain-sub000/perf"
	"github.com/johnhenry/ai.captain-sub000/template"
)

// ErrNoCache is returned by GenerateCached when the client was built
// without a cache store.
var ErrNoCache = errors.New("captain: no cache store configured")

// Client drives one primary backend through the fallback coordinator,
// with optional response caching and prompt templates in front of it.
type Client struct {
	coord     *fallback.Coordinator
	store     cache.Store
	templates *template.Registry
	recorder  *perf.Recorder
	cacheTTL  time.Duration
	logger    *zap.Logger
}

type clientConfig struct {
	alternates []model.Backend
	fallback   fallback.Config
	store      cache.Store
	cacheTTL   time.Duration
	templates  *template.Registry
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithAlternates registers alternate backends for fallback routing.
func WithAlternates(backends ...model.Backend) ClientOption {
	return func(c *clientConfig) { c.alternates = append(c.alternates, backends...) }
}

// WithFallback replaces the default fallback configuration.
func WithFallback(cfg fallback.Config) ClientOption {
	return func(c *clientConfig) { c.fallback = cfg }
}

// WithCache attaches a response cache. ttl bounds each cached response;
// zero uses the store's default.
func WithCache(store cache.Store, ttl time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.store = store
		c.cacheTTL = ttl
	}
}

// WithTemplates attaches a prompt template registry.
func WithTemplates(r *template.Registry) ClientOption {
	return func(c *clientConfig) { c.templates = r }
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// NewClient builds a Client around the primary backend.
func NewClient(ctx context.Context, primary model.Backend, opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{
		fallback: fallback.DefaultConfig(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.templates == nil {
		cfg.templates = template.NewRegistry()
	}

	recorder := perf.NewRecorder()
	coord, err := fallback.NewCoordinator(ctx, primary, cfg.alternates, cfg.fallback,
		fallback.WithRecorder(recorder),
		fallback.WithLogger(cfg.logger),
	)
	if err != nil {
		return nil, err
	}

	return &Client{
		coord:     coord,
		store:     cfg.store,
		templates: cfg.templates,
		recorder:  recorder,
		cacheTTL:  cfg.cacheTTL,
		logger:    cfg.logger,
	}, nil
}

// Templates exposes the prompt template registry.
func (c *Client) Templates() *template.Registry { return c.templates }

// Monitor exposes the health monitor behind the coordinator.
func (c *Client) Monitor() *health.Monitor { return c.coord.Monitor() }

// Generate runs the prompt through the fallback coordinator.
func (c *Client) Generate(ctx context.Context, prompt string, opts *model.Options) (string, error) {
	return c.coord.Execute(ctx, prompt, opts)
}

// GenerateStream opens a delta-normalized streaming generation.
func (c *Client) GenerateStream(ctx context.Context, prompt string, opts *model.Options) (<-chan string, error) {
	return c.coord.ExecuteStream(ctx, prompt, opts)
}

// GenerateCached answers from the cache when the same prompt and options
// were generated before, invoking the coordinator on a miss. The returned
// bool reports a cache hit. Failed generations are never cached.
func (c *Client) GenerateCached(ctx context.Context, prompt string, opts *model.Options) (string, bool, error) {
	if c.store == nil {
		return "", false, ErrNoCache
	}
	key := cache.Key("generate", prompt, optionsFingerprint(opts))
	invoked := false
	_, result, err := cache.Exec(ctx, cache.ExecConfig{Key: key, TTL: c.cacheTTL}, c.store,
		func(ctx context.Context) (string, bool, error) {
			invoked = true
			text, genErr := c.coord.Execute(ctx, prompt, opts)
			if genErr != nil {
				return "", false, genErr
			}
			return text, true, nil
		})
	if err != nil {
		return "", false, err
	}
	return result, !invoked, nil
}

// RenderAndGenerate renders a registered template with vars and generates
// from the result.
func (c *Client) RenderAndGenerate(ctx context.Context, templateName string, vars map[string]string, opts *model.Options) (string, error) {
	prompt, err := c.templates.Render(templateName, vars)
	if err != nil {
		return "", err
	}
	return c.Generate(ctx, prompt, opts)
}

// ClientStats is a point-in-time aggregate across the client's components.
type ClientStats struct {
	Cache   cache.Stats
	Health  map[string]health.Record
	Metrics map[string]perf.Stats
}

// Stats collects cache, health, and performance statistics. Cache stats
// are zero when no store is configured.
func (c *Client) Stats(ctx context.Context) (ClientStats, error) {
	out := ClientStats{
		Health:  c.coord.Monitor().Records(),
		Metrics: make(map[string]perf.Stats),
	}
	for _, name := range c.recorder.Metrics() {
		out.Metrics[name] = c.recorder.Stats(name)
	}
	if c.store != nil {
		cs, err := c.store.Stats(ctx)
		if err != nil {
			return out, err
		}
		out.Cache = cs
	}
	return out, nil
}

// Close releases the coordinator and the cache store.
func (c *Client) Close() error {
	c.coord.Close()
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// optionsFingerprint folds generation options into the cache key so that
// differing temperature or topK never alias.
func optionsFingerprint(opts *model.Options) string {
	if opts == nil {
		return "default"
	}
	temp, topK := "nil", "nil"
	if opts.Temperature != nil {
		temp = fmt.Sprintf("%g", *opts.Temperature)
	}
	if opts.TopK != nil {
		topK = fmt.Sprintf("%d", *opts.TopK)
	}
	return fmt.Sprintf("t=%s,k=%s", temp, topK)
}
