package state

import (
	"sort"
	"sync"
)

// UpdateFunc computes a new value from the current one. ok is false when
// the key is absent.
type UpdateFunc func(old any, ok bool) any

// Store is a concurrency-safe key/value map shared by the agents of a run.
// Writes are last-write-wins per key; there are no cross-key transactions.
type Store struct {
	mu      sync.RWMutex
	data    map[string]any
	version uint64
}

// NewStore creates an empty store, optionally seeded with initial values.
func NewStore(initial map[string]any) *Store {
	s := &Store{data: make(map[string]any, len(initial))}
	for k, v := range initial {
		s.data[k] = v
	}
	return s
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// GetString returns the value under key when it is a string.
func (s *Store) GetString(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Set stores value under key.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.version++
}

// Update applies fn to the current value of key atomically and stores the
// result, which is also returned.
func (s *Store) Update(key string, fn UpdateFunc) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.data[key]
	next := fn(old, ok)
	s.data[key] = next
	s.version++
	return next
}

// Delete removes key. It reports whether the key was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return false
	}
	delete(s.data, key)
	s.version++
	return true
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy of the current contents.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Version increases on every successful write.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Built-in update functions

// Append returns an UpdateFunc that appends v to a []any value.
func Append(v any) UpdateFunc {
	return func(old any, ok bool) any {
		list, _ := old.([]any)
		out := make([]any, 0, len(list)+1)
		out = append(out, list...)
		return append(out, v)
	}
}

// Increment returns an UpdateFunc that adds delta to an int value.
func Increment(delta int) UpdateFunc {
	return func(old any, ok bool) any {
		n, _ := old.(int)
		return n + delta
	}
}
