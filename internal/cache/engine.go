// Package cache provides the in-process TTL cache backing social graph reads.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"stride/internal/observability"
)

// DefaultCapacity bounds the number of live entries before LRU eviction.
const DefaultCapacity = 10000

// Stats is a snapshot of engine counters. Hit/miss are counted on every
// Get; EvictionCount covers implicit removals only (TTL expiry and
// capacity eviction), never explicit Remove calls.
type Stats struct {
	TotalEntries  int
	TotalSize     int64
	HitRate       float64
	MissRate      float64
	EvictionCount int64
}

type entry struct {
	key        string
	value      interface{}
	size       int64
	insertedAt time.Time
	ttl        time.Duration
	elem       *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.After(e.insertedAt.Add(e.ttl))
}

// Engine is a bounded TTL key/value cache with LRU eviction and
// hit/miss statistics. Safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	entries   map[string]*entry
	lru       *list.List // front = most recently used
	capacity  int
	totalSize int64
	now       func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithCapacity overrides the default entry capacity.
func WithCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.capacity = n
		}
	}
}

// WithClock injects the time source; tests use this to age entries
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a cache engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		entries:  make(map[string]*entry),
		lru:      list.New(),
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Get returns the cached value for key. An expired entry is a miss and is
// removed on the spot.
func (e *Engine) Get(key string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entries[key]
	if !ok {
		e.misses.Add(1)
		observability.CacheMisses.Inc()
		return nil, false
	}
	if ent.expired(e.now()) {
		e.deleteLocked(ent)
		e.evictions.Add(1)
		observability.CacheEvictions.WithLabelValues("ttl").Inc()
		e.misses.Add(1)
		observability.CacheMisses.Inc()
		return nil, false
	}

	e.lru.MoveToFront(ent.elem)
	e.hits.Add(1)
	observability.CacheHits.Inc()
	return ent.value, true
}

// Set stores value under key with the given TTL. A non-positive TTL means
// the entry never expires (it is still subject to capacity eviction).
func (e *Engine) Set(key string, value interface{}, ttl time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ent, ok := e.entries[key]; ok {
		e.totalSize += sizeOf(key, value) - ent.size
		ent.value = value
		ent.size = sizeOf(key, value)
		ent.insertedAt = e.now()
		ent.ttl = ttl
		e.lru.MoveToFront(ent.elem)
		return
	}

	ent := &entry{
		key:        key,
		value:      value,
		size:       sizeOf(key, value),
		insertedAt: e.now(),
		ttl:        ttl,
	}
	ent.elem = e.lru.PushFront(ent)
	e.entries[key] = ent
	e.totalSize += ent.size

	for len(e.entries) > e.capacity {
		oldest := e.lru.Back()
		if oldest == nil {
			break
		}
		e.deleteLocked(oldest.Value.(*entry))
		e.evictions.Add(1)
		observability.CacheEvictions.WithLabelValues("capacity").Inc()
	}
}

// Remove deletes key explicitly. Not counted as an eviction.
func (e *Engine) Remove(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.entries[key]; ok {
		e.deleteLocked(ent)
	}
}

// RemoveAll clears the cache. Statistics counters are preserved.
func (e *Engine) RemoveAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = make(map[string]*entry)
	e.lru.Init()
	e.totalSize = 0
}

// RemoveExpired sweeps every expired entry and returns how many were
// dropped. Each counts as an eviction.
func (e *Engine) RemoveExpired() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	removed := 0
	for _, ent := range e.entries {
		if ent.expired(now) {
			e.deleteLocked(ent)
			e.evictions.Add(1)
			observability.CacheEvictions.WithLabelValues("ttl").Inc()
			removed++
		}
	}
	return removed
}

// Invalidate removes every key matching pattern and returns the count.
// A trailing '*' matches any suffix; anything else is an exact key.
// Not counted as evictions, same as Remove.
func (e *Engine) Invalidate(pattern string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		removed := 0
		for key, ent := range e.entries {
			if strings.HasPrefix(key, prefix) {
				e.deleteLocked(ent)
				removed++
			}
		}
		return removed
	}

	if ent, ok := e.entries[pattern]; ok {
		e.deleteLocked(ent)
		return 1
	}
	return 0
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	totalEntries := len(e.entries)
	totalSize := e.totalSize
	e.mu.Unlock()

	hits := e.hits.Load()
	misses := e.misses.Load()
	var hitRate, missRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
		missRate = float64(misses) / float64(total)
	}

	return Stats{
		TotalEntries:  totalEntries,
		TotalSize:     totalSize,
		HitRate:       hitRate,
		MissRate:      missRate,
		EvictionCount: e.evictions.Load(),
	}
}

// StartSweeper runs RemoveExpired on a fixed interval until the returned
// stop function is called.
func (e *Engine) StartSweeper(interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.RemoveExpired()
			}
		}
	}()
	return func() { close(stop) }
}

func (e *Engine) deleteLocked(ent *entry) {
	delete(e.entries, ent.key)
	e.lru.Remove(ent.elem)
	e.totalSize -= ent.size
}

// sizeOf estimates the memory footprint of an entry. String and byte
// payloads count their length; everything else gets a flat estimate,
// good enough for the health report's relative numbers.
func sizeOf(key string, value interface{}) int64 {
	size := int64(len(key))
	switch v := value.(type) {
	case string:
		size += int64(len(v))
	case []byte:
		size += int64(len(v))
	case []string:
		for _, s := range v {
			size += int64(len(s)) + 16
		}
	default:
		size += 64
	}
	return size
}
