package productcache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Entry wraps a cached record with its insertion time.
type Entry[T any] struct {
	Value      T         `json:"value"`
	InsertedAt time.Time `json:"insertedAt"`
}

// Valid reports whether the entry is still live at now for the given ttl.
func (e Entry[T]) Valid(now time.Time, ttl time.Duration) bool {
	return now.Before(e.InsertedAt.Add(ttl))
}

type lookupState int

const (
	stateMiss lookupState = iota
	stateHit
	stateExpired
)

// store is a bounded key->Entry map. Keys are kept in insertion order: reads use Peek so
// they never refresh recency, and re-inserting a key moves it to the newest position.
type store[T any] struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, Entry[T]]
}

func newStore[T any](maxEntries int) *store[T] {
	lru, err := simplelru.NewLRU[string, Entry[T]](maxEntries, nil)
	if err != nil {
		panic("productcache: " + err.Error())
	}
	return &store[T]{lru: lru}
}

// get removes expired entries as a side effect and reports them as expired.
func (s *store[T]) get(id string, now time.Time, ttl time.Duration) (Entry[T], lookupState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lru.Peek(id)
	if !ok {
		return Entry[T]{}, stateMiss
	}
	if !entry.Valid(now, ttl) {
		s.lru.Remove(id)
		return entry, stateExpired
	}
	return entry, stateHit
}

// put returns true when an older key was evicted to respect the bound.
func (s *store[T]) put(id string, entry Entry[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Add(id, entry)
}

// putIfNewer keeps an existing entry that was inserted later than entry.
func (s *store[T]) putIfNewer(id string, entry Entry[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.lru.Peek(id); ok && existing.InsertedAt.After(entry.InsertedAt) {
		return
	}
	s.lru.Add(id, entry)
}

func (s *store[T]) contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Contains(id)
}

func (s *store[T]) evictExpired(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, id := range s.lru.Keys() {
		entry, ok := s.lru.Peek(id)
		if ok && !entry.Valid(now, ttl) {
			s.lru.Remove(id)
			removed++
		}
	}
	return removed
}

func (s *store[T]) live(now time.Time, ttl time.Duration) map[string]Entry[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry[T], s.lru.Len())
	for _, id := range s.lru.Keys() {
		if entry, ok := s.lru.Peek(id); ok && entry.Valid(now, ttl) {
			out[id] = entry
		}
	}
	return out
}

func (s *store[T]) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}
