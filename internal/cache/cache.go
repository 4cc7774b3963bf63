// Package cache provides the distributed cache layer shared by every
// Porchlight subsystem: classification results, per-provider search
// results, conversation sessions, and the published mode snapshot.
//
// The cache is strictly best-effort. No method returns an error to the
// caller for transport or decode failures — a failed read is a miss and a
// failed write is a no-op, logged at warn. The pipeline must produce the
// same answers with the cache unreachable, only more slowly.
package cache

import (
	"context"
	"sync"
	"time"
)

// Store is the key/value contract used by all callers. Values are
// JSON-encoded by the implementation; Get decodes into dest.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get decodes the value at key into dest and reports whether a usable
	// value was found. Absent keys, transport errors, and malformed stored
	// values all read as a miss.
	Get(ctx context.Context, key string, dest any) bool

	// Set stores value at key with the given TTL. A ttl of zero means no
	// expiry. Errors are logged and swallowed.
	Set(ctx context.Context, key string, value any, ttl time.Duration)

	// Delete removes key. Idempotent; errors are logged and swallowed.
	Delete(ctx context.Context, key string)

	// Ping probes the backing store. Used by health checks only; pipeline
	// code never calls it.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// Stats holds hit/miss accounting for a store.
type Stats struct {
	Hits   int64
	Misses int64
	Sets   int64
}

// memoryEntry is a stored value with its expiry deadline.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

// Memory is an in-process Store used in tests and as the degraded-mode
// stand-in when no distributed cache is configured. Expired entries are
// evicted lazily on read.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	stats   struct {
		hits   int64
		misses int64
		sets   int64
	}
	now func() time.Time // overridable in tests
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string, dest any) bool {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if ok && !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		ok = false
	}
	if !ok {
		m.mu.Lock()
		m.stats.misses++
		m.mu.Unlock()
		return false
	}
	if err := decodeJSON(e.value, dest); err != nil {
		// Malformed value: treat as miss, drop the entry.
		m.mu.Lock()
		delete(m.entries, key)
		m.stats.misses++
		m.mu.Unlock()
		return false
	}
	m.mu.Lock()
	m.stats.hits++
	m.mu.Unlock()
	return true
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) {
	data, err := encodeJSON(value)
	if err != nil {
		return
	}
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: data, expiresAt: exp}
	m.stats.sets++
	m.mu.Unlock()
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Ping implements Store. The in-process store is always reachable.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *Memory) Close() error { return nil }

// Stats returns hit/miss/set counts.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Hits: m.stats.hits, Misses: m.stats.misses, Sets: m.stats.sets}
}

// Len returns the number of live entries, counting expired-but-unevicted
// entries. Intended for tests.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
