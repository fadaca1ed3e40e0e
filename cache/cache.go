package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/johnhenry/ai.captain-sub000/compress"
)

// ErrUnknownPolicy is returned at construction time for an unrecognized
// eviction policy. Runtime operations never fail for missing keys.
var ErrUnknownPolicy = errors.New("cache: unknown eviction policy")

// Store is a key-value cache with TTL expiry and access accounting.
// Absence is a value: Get returns found=false for missing or expired keys,
// never an error.
type Store interface {
	// Get retrieves a value. An entry past its expiry is removed and
	// reported as a miss.
	Get(ctx context.Context, key string) (bool, any, error)

	// Set stores a value with a TTL. ttl <= 0 uses the store's default.
	Set(ctx context.Context, key string, val any, ttl time.Duration) error

	// Delete removes a key, reporting whether it was present.
	Delete(ctx context.Context, key string) (bool, error)

	// Clear removes every entry and resets hit/miss counters.
	Clear(ctx context.Context) error

	// Stats returns a snapshot of cache effectiveness counters.
	Stats(ctx context.Context) (Stats, error)

	// Close releases background resources.
	Close() error
}

// Stats is a snapshot of a Store's counters. HitRate is hits/(hits+misses),
// 0 when nothing has been accessed. OldestEntry and NewestEntry are zero
// for backends that do not track entry creation times.
type Stats struct {
	Size        int
	Hits        int64
	Misses      int64
	HitRate     float64
	OldestEntry time.Time
	NewestEntry time.Time
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// DefaultTTL is the entry lifetime used when Set is called with ttl <= 0 and
// no default was configured.
const DefaultTTL = 5 * time.Minute

// DefaultMaxSize bounds the memory store's entry count.
const DefaultMaxSize = 1000

// DefaultQueryTimeout bounds each operation against an I/O-backed store.
const DefaultQueryTimeout = 5 * time.Second

type config struct {
	defaultTTL    time.Duration
	maxSize       int
	policy        Policy
	sweepInterval time.Duration
	queryTimeout  time.Duration
	codec         *compress.Codec
	prefix        string
	logger        *zap.Logger
}

// Option configures a Store implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultTTL:   DefaultTTL,
		maxSize:      DefaultMaxSize,
		policy:       PolicyLRU,
		queryTimeout: DefaultQueryTimeout,
		logger:       zap.NewNop(),
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithTTL sets the default entry lifetime used when Set gets ttl <= 0.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithMaxSize bounds the number of entries in the memory store. Exceeding the
// bound evicts one victim per insertion, chosen by the eviction policy.
// Zero or negative means unbounded.
func WithMaxSize(n int) Option {
	return func(c *config) { c.maxSize = n }
}

// WithPolicy selects the eviction policy for the memory store.
func WithPolicy(p Policy) Option {
	return func(c *config) { c.policy = p }
}

// WithSweep enables a background goroutine that removes expired entries at
// the given interval. Without it expiry is purely lazy, applied on read.
func WithSweep(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

// WithQueryTimeout bounds each operation for I/O-backed stores (Redis).
// Defaults to DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithCodec compresses stored values through the codec. Values round-trip
// through their JSON serialization, so retrieved values carry JSON types
// (string, float64, map[string]any).
func WithCodec(codec *compress.Codec) Option {
	return func(c *config) { c.codec = codec }
}

// WithPrefix namespaces keys for shared backends (Redis).
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Key builds a stable cache key from request parts (prompt, sampling options,
// template version). Parts are length-prefixed before hashing so that
// ("ab","c") and ("a","bc") produce different keys.
func Key(parts ...string) string {
	h := xxhash.New()
	for _, part := range parts {
		_, _ = h.WriteString(strconv.Itoa(len(part)))
		_, _ = h.WriteString(":")
		_, _ = h.WriteString(part)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
