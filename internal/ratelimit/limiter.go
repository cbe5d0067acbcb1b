package ratelimit

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxKeys bounds the number of tracked keys before eviction starts.
const DefaultMaxKeys = 1000

// keyState is the per-key bookkeeping pair.
type keyState struct {
	// key is stored so eviction can remove the map entry.
	key string
	// lastAllowed is when the key last produced an allowed call.
	lastAllowed time.Time
	// suppressed counts calls rejected since lastAllowed.
	suppressed int
}

// Limiter tracks per-key allow timestamps and suppressed-call counts.
// Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	// lru orders keys by recency of allowed calls, oldest at the front.
	lru     *list.List
	maxKeys int

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewLimiter creates a limiter holding at most maxKeys keys.
// A non-positive maxKeys falls back to DefaultMaxKeys.
func NewLimiter(maxKeys int) *Limiter {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	return &Limiter{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxKeys: maxKeys,
		now:     time.Now,
	}
}

// ShouldLog reports whether a log line for key may be emitted now.
//
// The first call for a key, or any call at least interval after the last
// allowed call, returns (true, n) where n is the number of calls suppressed
// since the previous allowed call. Calls inside the interval return
// (false, 0) and increment the suppressed counter.
func (l *Limiter) ShouldLog(key string, interval time.Duration) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if el, ok := l.entries[key]; ok {
		st := el.Value.(*keyState)
		if now.Sub(st.lastAllowed) < interval {
			st.suppressed++
			return false, 0
		}

		suppressed := st.suppressed
		st.suppressed = 0
		st.lastAllowed = now
		l.lru.MoveToBack(el)

		return true, suppressed
	}

	el := l.lru.PushBack(&keyState{key: key, lastAllowed: now})
	l.entries[key] = el

	// Evict the least recently allowed key once the bound is exceeded.
	if l.lru.Len() > l.maxKeys {
		oldest := l.lru.Front()
		l.lru.Remove(oldest)
		delete(l.entries, oldest.Value.(*keyState).key)
	}

	return true, 0
}

// Len returns the number of currently tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.lru.Len()
}

// shared is the process-wide limiter used by the package-level helper.
//
//nolint:gochecknoglobals // Mirrors the global logger: one limiter for the whole process.
var shared = NewLimiter(DefaultMaxKeys)

// ShouldLog applies the shared process-wide limiter.
func ShouldLog(key string, interval time.Duration) (bool, int) {
	return shared.ShouldLog(key, interval)
}
