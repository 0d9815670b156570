package kv

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Values do not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string

	// failSet, when non-nil, is returned by Set instead of storing.
	failSet error
	sets    int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores value under key unless a failure has been injected.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	m.values[key] = value
	m.sets++
	return nil
}

// FailSets makes every subsequent Set return err. Pass nil to recover.
func (m *MemoryStore) FailSets(err error) {
	m.mu.Lock()
	m.failSet = err
	m.mu.Unlock()
}

// Sets reports how many writes have succeeded.
func (m *MemoryStore) Sets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sets
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
