package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// GetAs retrieves a typed value. A direct type assertion covers the memory
// store without a codec; []byte values are msgpack-decoded; everything else
// (JSON-typed values produced by a codec) is re-marshalled through JSON into
// T.
func GetAs[T any](ctx context.Context, s Store, key string) (bool, T, error) {
	var zero T
	found, val, err := s.Get(ctx, key)
	if !found || err != nil {
		return false, zero, err
	}
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	if data, ok := val.([]byte); ok {
		var out T
		if err := msgpack.Unmarshal(data, &out); err != nil {
			return false, zero, errors.Wrap(err, "cache: unmarshal value")
		}
		return true, out, nil
	}
	data, err := json.Marshal(val)
	if err != nil {
		return false, zero, errors.Wrapf(err, "cache: cannot convert %T to %T", val, zero)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return false, zero, errors.Wrapf(err, "cache: cannot convert %T to %T", val, zero)
	}
	return true, out, nil
}

// Invoker produces a value on a cache miss. Returning found=false signals
// "no value" without caching anything.
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// ExecConfig configures one Exec call.
type ExecConfig struct {
	// Key is the cache key. Required.
	Key string
	// TTL for a freshly produced value. <= 0 uses the store default.
	TTL time.Duration
}

// flighted is implemented by this package's stores. The singleflight group
// lives on the store so concurrent misses only collapse within one store;
// two stores with the same key must never share an invocation.
type flighted interface {
	flightGroup() *singleflight.Group
}

// Exec is a cache-aside helper: check the store, invoke on miss, cache the
// result. If the Set fails after a successful invoke, the value is still
// returned. Concurrent Exec misses for the same key on the same store are
// collapsed into a single invocation, so a burst of identical prompts costs
// one generation.
func Exec[T any](ctx context.Context, cfg ExecConfig, s Store, invoke Invoker[T]) (bool, T, error) {
	var zero T
	found, val, err := GetAs[T](ctx, s, cfg.Key)
	if err != nil {
		return false, zero, err
	}
	if found {
		return true, val, nil
	}

	type produced struct {
		value T
		ok    bool
	}
	do := func() (any, error) {
		value, ok, err := invoke(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			_ = s.Set(ctx, cfg.Key, value, cfg.TTL)
		}
		return produced{value: value, ok: ok}, nil
	}

	var res any
	if f, ok := s.(flighted); ok {
		res, err, _ = f.flightGroup().Do(cfg.Key, do)
	} else {
		res, err = do()
	}
	if err != nil {
		return false, zero, err
	}

	p := res.(produced)
	if !p.ok {
		return false, zero, nil
	}
	return true, p.value, nil
}
