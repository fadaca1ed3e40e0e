// Package cache stores generation results keyed by prompt fingerprint, with
// TTL expiry, bounded size, and pluggable eviction.
//
// # Stores
//
// [NewMemory] is the reference implementation: an in-process map with lazy
// TTL expiry (an expired entry is removed on read and counted as a miss),
// per-entry access accounting, and a size bound enforced by evicting exactly
// one victim per overflowing insertion. The victim is chosen by the
// configured [Policy]: least recently used, least frequently used, or oldest
// first. Optionally a background sweep ([WithSweep]) removes expired entries
// proactively.
//
// [NewRedis] is an optional persistent backing store behind the same [Store]
// interface, for sharing results across processes or surviving restarts.
// Values are msgpack-serialized; expiry uses native Redis TTLs.
//
// # Compression
//
// [WithCodec] routes values through a [compress.Codec], so large generation
// results are stored compressed. Values then round-trip through their JSON
// serialization: a cached string comes back as a string, a struct comes back
// as a map[string]any (use [GetAs] to recover a typed value).
//
// # Helpers
//
// [Key] fingerprints request parts with xxhash. [GetAs] is a type-safe read.
// [Exec] is a cache-aside helper that collapses concurrent misses for the
// same key into a single generation via singleflight.
package cache
