package roomscore

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// BoundedStore is a size-bounded Store backed by ristretto. It admits and
// evicts by byte cost, so long sessions on low-memory devices do not grow the
// cache without bound. Entries remain readable as stale for a grace window
// past their TTL, after which ristretto expires them outright.
type BoundedStore struct {
	cache *ristretto.Cache

	// ristretto cannot enumerate keys, so pattern invalidation needs an
	// index of live keys. Misses prune the index lazily.
	mu   sync.Mutex
	keys map[string]struct{}

	staleGrace time.Duration
}

// NewBoundedStore creates a store capped at maxSizeMB megabytes and roughly
// maxEntries entries. staleGrace is how long past its TTL an entry stays
// available for stale reads; zero selects one hour.
func NewBoundedStore(maxSizeMB, maxEntries int64, staleGrace time.Duration) (*BoundedStore, error) {
	numCounters := maxEntries * 10
	if numCounters < 1000 {
		numCounters = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxSizeMB * 1024 * 1024,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	if staleGrace <= 0 {
		staleGrace = time.Hour
	}
	return &BoundedStore{
		cache:      cache,
		keys:       make(map[string]struct{}),
		staleGrace: staleGrace,
	}, nil
}

// Get returns the entry for key only when it is still fresh.
func (s *BoundedStore) Get(key string) (*Entry, bool) {
	entry, stale, found := s.GetWithStaleness(key)
	if !found || stale {
		return nil, false
	}
	return entry, true
}

// GetWithStaleness returns the entry for key regardless of freshness.
func (s *BoundedStore) GetWithStaleness(key string) (*Entry, bool, bool) {
	val, found := s.cache.Get(key)
	if !found {
		s.mu.Lock()
		delete(s.keys, key)
		s.mu.Unlock()
		return nil, false, false
	}
	entry, ok := val.(*Entry)
	if !ok {
		s.cache.Del(key)
		return nil, false, false
	}
	return entry, entry.Stale(time.Now()), true
}

// Set stores an entry with cost equal to its body size. The ristretto TTL is
// the entry TTL plus the stale grace window.
func (s *BoundedStore) Set(key string, entry *Entry, ttl time.Duration) {
	entry.StoredAt = time.Now()
	entry.TTL = ttl

	cost := int64(len(entry.Body))
	if cost < 1 {
		cost = 1
	}
	if s.cache.SetWithTTL(key, entry, cost, ttl+s.staleGrace) {
		s.mu.Lock()
		s.keys[key] = struct{}{}
		s.mu.Unlock()
	}
}

// Invalidate removes all entries matching pattern and reports the count.
func (s *BoundedStore) Invalidate(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.keys {
		if keyMatches(key, pattern) {
			s.cache.Del(key)
			delete(s.keys, key)
			removed++
		}
	}
	return removed
}

// Wait blocks until buffered writes have been applied. Ristretto admits
// asynchronously; call this before reading back an immediately prior Set.
func (s *BoundedStore) Wait() {
	s.cache.Wait()
}

// Clear removes all entries.
func (s *BoundedStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Clear()
	s.keys = make(map[string]struct{})
}
