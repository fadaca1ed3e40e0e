// Package captain is a resilience and caching layer for host-provided
// on-device text generation. It wraps a model backend with a fallback
// coordinator (retry, alternate routing, prompt degradation), an optional
// response cache with TTL and eviction, prompt templates, and rolling
// performance statistics.
//
// The Client type is the composition surface: it wires templates, cache,
// and coordinator together behind Generate, GenerateCached, and
// GenerateStream. Each underlying package is usable on its own.
package captain
