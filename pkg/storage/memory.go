package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Store is the key/value persistence behind the activity cache.
// Keys passed in are logical keys; backends apply their own namespace prefix.
type Store interface {
	// Get reads a value. ok is false when the key does not exist.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set writes a value without expiration
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes keys; missing keys are ignored
	Delete(ctx context.Context, keys ...string) error

	// Keys lists logical keys starting with prefix
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources
	Close() error
}

// MemoryStore is a simple in-memory implementation (Note: data lost on restart, for testing/temp tasks only)
type MemoryStore struct {
	data   map[string][]byte
	prefix string
	mu     sync.RWMutex
}

// NewMemoryStore initializes a new in-memory storage.
func NewMemoryStore(prefix string) *MemoryStore {
	return &MemoryStore{
		data:   make(map[string][]byte),
		prefix: prefix,
	}
}

// Get retrieves a value from memory.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[m.prefix+key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set stores a copy of value in memory.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[m.prefix+key] = v
	return nil
}

// Delete removes keys from memory.
func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, m.prefix+k)
	}
	return nil
}

// Keys lists stored keys with the given logical prefix, sorted.
func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	full := m.prefix + prefix
	for k := range m.data {
		if strings.HasPrefix(k, full) {
			out = append(out, strings.TrimPrefix(k, m.prefix))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Close implements the Store interface.
func (m *MemoryStore) Close() error {
	return nil
}
