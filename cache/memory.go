package cache

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

const memoryStoreKind = "memory"

type memEntry struct {
	uri     string
	payload []byte
	// idle approximates recency: 0 is most recently used. Atomic so the
	// aging tick can run under the shared read lock.
	idle atomic.Int64
}

// MemoryStore is the in-memory ObjectStore. Entries live in a slice
// with a uri->index map for removal, owned exclusively by the store.
// A single RWMutex guards the structure: lookups share the read lock,
// inserts and teardown take the write lock. No lock is ever held
// across network I/O by callers of this package.
var _ ObjectStore = (*MemoryStore)(nil)

type MemoryStore struct {
	mu      sync.RWMutex
	entries []*memEntry
	index   map[string]int
	size    int64
	closed  bool

	maxCache  int64
	maxObject int64
}

// NewMemoryStore creates an empty store with the given byte budgets.
// Non-positive budgets fall back to the defaults.
func NewMemoryStore(maxCacheSize, maxObjectSize int64) *MemoryStore {
	if maxCacheSize <= 0 {
		maxCacheSize = DefaultMaxCacheSize
	}
	if maxObjectSize <= 0 {
		maxObjectSize = DefaultMaxObjectSize
	}
	return &MemoryStore{
		index:     make(map[string]int),
		maxCache:  maxCacheSize,
		maxObject: maxObjectSize,
	}
}

// Lookup scans all live entries, incrementing every idle counter as an
// aging tick, and resets the matched entry to zero. The returned
// payload is a copy made before the lock is released.
func (s *MemoryStore) Lookup(uri string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false
	}

	var matched *memEntry
	for _, e := range s.entries {
		e.idle.Add(1)
		if e.uri == uri {
			matched = e
		}
	}
	if matched == nil {
		cacheMisses.WithLabelValues(memoryStoreKind).Inc()
		return nil, false
	}
	matched.idle.Store(0)

	payload := make([]byte, len(matched.payload))
	copy(payload, matched.payload)
	cacheHits.WithLabelValues(memoryStoreKind).Inc()
	return payload, true
}

// Insert stores payload under uri, replacing any existing entry with
// the same key. Entries are evicted until the total fits the budget.
func (s *MemoryStore) Insert(uri string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	n := int64(len(payload))
	if n > s.maxObject || n > s.maxCache {
		cacheRejects.WithLabelValues(memoryStoreKind).Inc()
		log.Warn().Str("uri", uri).Int64("bytes", n).Msg("Object too large for cache")
		return ErrTooLarge
	}

	if i, ok := s.index[uri]; ok {
		s.removeAt(i)
	}
	for s.size+n > s.maxCache && len(s.entries) > 0 {
		s.evict(s.size + n - s.maxCache)
	}

	e := &memEntry{uri: uri, payload: payload}
	s.index[uri] = len(s.entries)
	s.entries = append(s.entries, e)
	s.size += n
	cacheSize.WithLabelValues(memoryStoreKind).Set(float64(s.size))
	return nil
}

// Size is the sum of live payload lengths.
func (s *MemoryStore) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Len is the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Teardown releases all entries and marks the store closed.
func (s *MemoryStore) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.entries = nil
	s.index = nil
	s.size = 0
	cacheSize.WithLabelValues(memoryStoreKind).Set(0)
	return nil
}

// evict removes one entry to help free at least needed bytes: the most
// idle entry whose own size is at least needed, so a single removal
// suffices. When no entry is that large, it falls back to the most
// idle entry overall so capacity is always reclaimable.
func (s *MemoryStore) evict(needed int64) {
	victim := -1
	victimIdle := int64(-1)
	for i, e := range s.entries {
		if int64(len(e.payload)) >= needed {
			if idle := e.idle.Load(); idle > victimIdle {
				victim, victimIdle = i, idle
			}
		}
	}
	if victim == -1 {
		for i, e := range s.entries {
			if idle := e.idle.Load(); idle > victimIdle {
				victim, victimIdle = i, idle
			}
		}
	}
	if victim == -1 {
		return
	}
	log.Debug().Str("uri", s.entries[victim].uri).
		Int("bytes", len(s.entries[victim].payload)).
		Msg("Evicting cache entry")
	s.removeAt(victim)
	cacheEvictions.WithLabelValues(memoryStoreKind).Inc()
}

// removeAt drops the entry at index i, swapping the last entry into
// its place to keep the slice compact.
func (s *MemoryStore) removeAt(i int) {
	victim := s.entries[i]
	last := len(s.entries) - 1
	if i != last {
		s.entries[i] = s.entries[last]
		s.index[s.entries[i].uri] = i
	}
	s.entries = s.entries[:last]
	delete(s.index, victim.uri)
	s.size -= int64(len(victim.payload))
}
