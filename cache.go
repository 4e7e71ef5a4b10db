package roomscore

import (
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is a cached response. StoredAt and TTL together determine staleness;
// an entry is never reported fresh once now-StoredAt exceeds TTL, but it may
// still be served explicitly as stale (cooldown fallback, SWR).
type Entry struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	StoredAt   time.Time
	TTL        time.Duration
}

// Stale reports whether the entry has outlived its TTL at the given instant.
func (e *Entry) Stale(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// Response converts the entry back into a pipeline response.
func (e *Entry) Response() *Response {
	return &Response{
		StatusCode: e.StatusCode,
		Header:     e.Header,
		Body:       e.Body,
	}
}

// Store is the cache contract used by the pipeline.
type Store interface {
	// Get returns a value only if present and not stale.
	Get(key string) (*Entry, bool)
	// GetWithStaleness always returns the stored value if present, flagged
	// fresh or stale, so callers can implement stale-while-revalidate.
	GetWithStaleness(key string) (entry *Entry, stale bool, found bool)
	// Set stores or overwrites an entry, resetting StoredAt to now.
	Set(key string, entry *Entry, ttl time.Duration)
	// Invalidate removes entries whose key equals or matches the pattern
	// (exact key, key prefix, or route prefix) and returns how many were
	// removed.
	Invalidate(pattern string) int
	// Clear removes all entries.
	Clear()
}

// MemoryStore is a sharded in-memory Store. Entries past their TTL remain
// readable through GetWithStaleness until overwritten or invalidated.
type MemoryStore struct {
	shards    []*storeShard
	numShards int
}

type storeShard struct {
	mu    sync.RWMutex
	store map[string]*Entry
}

// NewMemoryStore creates an empty sharded memory store.
func NewMemoryStore() *MemoryStore {
	const numShards = 16
	shards := make([]*storeShard, numShards)
	for i := range shards {
		shards[i] = &storeShard{store: make(map[string]*Entry)}
	}
	return &MemoryStore{shards: shards, numShards: numShards}
}

func (s *MemoryStore) getShard(key string) *storeShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return s.shards[hash.Sum32()%uint32(s.numShards)]
}

// Get returns the entry for key only when it is still fresh.
func (s *MemoryStore) Get(key string) (*Entry, bool) {
	entry, stale, found := s.GetWithStaleness(key)
	if !found || stale {
		return nil, false
	}
	return entry, true
}

// GetWithStaleness returns the entry for key regardless of freshness.
func (s *MemoryStore) GetWithStaleness(key string) (*Entry, bool, bool) {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entry, exists := shard.store[key]
	if !exists {
		return nil, false, false
	}
	return entry, entry.Stale(time.Now()), true
}

// Set stores an entry under key, resetting its StoredAt to now.
func (s *MemoryStore) Set(key string, entry *Entry, ttl time.Duration) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry.StoredAt = time.Now()
	entry.TTL = ttl
	shard.store[key] = entry
}

// Invalidate removes all entries matching pattern and reports the count.
func (s *MemoryStore) Invalidate(pattern string) int {
	removed := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key := range shard.store {
			if keyMatches(key, pattern) {
				delete(shard.store, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Clear removes all entries.
func (s *MemoryStore) Clear() {
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*Entry)
		shard.mu.Unlock()
	}
}

// Len returns the total number of stored entries, stale included.
func (s *MemoryStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

// CanonicalKey derives the deterministic cache/dedup key for a request:
// method, path and sorted query, plus a body digest for mutating verbs.
// Two logically identical requests always produce identical keys.
func CanonicalKey(req *http.Request) string {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte(' ')

	if req.URL == nil {
		return b.String()
	}
	b.WriteString(req.URL.Path)

	if q := req.URL.Query(); len(q) > 0 {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('?')
		for i, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(k)
				b.WriteByte('=')
				b.WriteString(v)
			}
		}
	}

	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		if req.GetBody != nil {
			if body, err := req.GetBody(); err == nil {
				h := sha256.New()
				_, _ = io.Copy(h, body)
				_ = body.Close()
				fmt.Fprintf(&b, " %x", h.Sum(nil)[:8])
			}
		}
	}

	return b.String()
}

// keyMatches reports whether a stored key matches an invalidation pattern.
// A pattern matches when it equals or prefixes the full key, or when it
// equals or prefixes the path portion (so "/rooms" clears every cached read
// under /rooms regardless of method or query).
func keyMatches(key, pattern string) bool {
	if pattern == "" {
		return false
	}
	if key == pattern || strings.HasPrefix(key, pattern) {
		return true
	}
	if _, path, ok := strings.Cut(key, " "); ok {
		return path == pattern || strings.HasPrefix(path, pattern)
	}
	return false
}
