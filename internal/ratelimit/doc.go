// Package ratelimit provides a per-key suppressive log limiter.
//
// Components ask ShouldLog(key, interval) before emitting a noisy log line;
// the first call for a key is allowed, calls inside the interval are
// suppressed and counted, and the first call after the interval reports how
// many were suppressed in between. The key set is bounded with
// least-recently-used eviction so high-cardinality keys cannot grow memory
// without bound.
package ratelimit
