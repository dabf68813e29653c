package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used in tests and as the degraded
// fallback when Redis is unreachable at startup. State does not survive a
// restart, so duplicate tickets become possible in that mode.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func memoryKey(collection, key string) string {
	return collection + ":" + key
}

// Get returns the value stored under collection/key.
func (s *MemoryStore) Get(ctx context.Context, collection, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.data[memoryKey(collection, key)]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

// Set stores the value under collection/key.
func (s *MemoryStore) Set(ctx context.Context, collection, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[memoryKey(collection, key)] = value
	return nil
}

// Delete removes collection/key. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, memoryKey(collection, key))
	return nil
}

// Exists reports whether collection/key is present.
func (s *MemoryStore) Exists(ctx context.Context, collection, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[memoryKey(collection, key)]
	return ok, nil
}
