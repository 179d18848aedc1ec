package store

import "sync"

// Record is an entity that can be merged by identity and ordering value.
type Record[K comparable] interface {
	Key() K
	Ordering() uint64
}

// Store is a concurrency-safe map of the newest record per key.
type Store[K comparable, V Record[K]] struct {
	mu      sync.RWMutex
	records map[K]V
}

// New creates an empty store.
func New[K comparable, V Record[K]]() *Store[K, V] {
	return &Store[K, V]{
		records: make(map[K]V),
	}
}

// Seed merges a batch of records and returns how many changed the store.
func (s *Store[K, V]) Seed(records []V) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, r := range records {
		if s.mergeLocked(r) {
			applied++
		}
	}
	return applied
}

// Merge inserts the record if its key is absent or replaces the existing
// record if the new ordering value is strictly greater. Ties keep the
// existing record. Returns true if the store changed.
func (s *Store[K, V]) Merge(r V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(r)
}

func (s *Store[K, V]) mergeLocked(r V) bool {
	key := r.Key()
	old, ok := s.records[key]
	if ok && old.Ordering() >= r.Ordering() {
		return false
	}
	s.records[key] = r
	return true
}

// Snapshot returns a copy of the current state. Later merges do not affect it.
func (s *Store[K, V]) Snapshot() map[K]V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[K]V, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Lookup returns the record stored under key.
func (s *Store[K, V]) Lookup(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[key]
	return v, ok
}

// Len returns the number of keys in the store.
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
