package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/johnhenry/ai.captain-sub000/compress"
)

type redisStore struct {
	client *redis.Client
	cfg    config
	flight singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

var _ Store = (*redisStore)(nil)

// NewRedis returns a Store backed by Redis, for setups that want generation
// results to survive process restarts or be shared between processes. Values
// are msgpack-serialized (optionally through the compression codec); expiry
// uses native Redis TTLs, and capacity is Redis's concern rather than the
// eviction policies of the memory store. The caller owns the client
// lifecycle; Close is a no-op on it.
func NewRedis(client *redis.Client, opts ...Option) (Store, error) {
	cfg := applyOptions(opts)
	return &redisStore{client: client, cfg: cfg}, nil
}

func (s *redisStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.queryTimeout)
}

func (s *redisStore) key(key string) string {
	if s.cfg.prefix == "" {
		return key
	}
	return s.cfg.prefix + ":" + key
}

func (s *redisStore) Get(ctx context.Context, key string) (bool, any, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	k := s.key(key)
	data, err := s.client.HGet(qctx, k, "v").Bytes()
	if err == redis.Nil {
		s.misses.Add(1)
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}

	var out any
	if s.cfg.codec != nil {
		var blob compress.Blob
		if err := msgpack.Unmarshal(data, &blob); err != nil {
			return false, nil, err
		}
		if err := s.cfg.codec.Decompress(blob, &out); err != nil {
			return false, nil, err
		}
	} else if err := msgpack.Unmarshal(data, &out); err != nil {
		return false, nil, err
	}

	s.hits.Add(1)
	// Access accounting is fire-and-forget; a failed HIncrBy never fails
	// the read.
	s.client.HIncrBy(qctx, k, "h", 1)
	return true, out, nil
}

func (s *redisStore) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.cfg.defaultTTL
	}

	var payload any = val
	if s.cfg.codec != nil {
		blob, err := s.cfg.codec.Compress(val)
		if err != nil {
			return err
		}
		payload = blob
	}
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return err
	}

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	k := s.key(key)
	pipe := s.client.Pipeline()
	pipe.HSet(qctx, k, "v", data, "h", 0)
	pipe.Expire(qctx, k, ttl)
	_, err = pipe.Exec(qctx)
	return err
}

func (s *redisStore) Delete(ctx context.Context, key string) (bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	n, err := s.client.Del(qctx, s.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) Clear(ctx context.Context) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	pattern := "*"
	if s.cfg.prefix != "" {
		pattern = s.cfg.prefix + ":*"
	}
	iter := s.client.Scan(qctx, 0, pattern, 0).Iterator()
	for iter.Next(qctx) {
		if err := s.client.Del(qctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	s.hits.Store(0)
	s.misses.Store(0)
	return nil
}

func (s *redisStore) Stats(ctx context.Context) (Stats, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	pattern := "*"
	if s.cfg.prefix != "" {
		pattern = s.cfg.prefix + ":*"
	}
	size := 0
	iter := s.client.Scan(qctx, 0, pattern, 0).Iterator()
	for iter.Next(qctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		return Stats{}, err
	}

	hits, misses := s.hits.Load(), s.misses.Load()
	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}, nil
}

func (s *redisStore) flightGroup() *singleflight.Group { return &s.flight }

// Close is a no-op; the caller owns the redis.Client lifecycle.
func (s *redisStore) Close() error { return nil }
