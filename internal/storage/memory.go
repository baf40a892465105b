package storage

import (
	"context"

	"github.com/patrickmn/go-cache"
)

// MemoryBackend keeps slots in process memory. Values never expire.
type MemoryBackend struct {
	cache *cache.Cache
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{cache: cache.New(cache.NoExpiration, 0)}
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	x, found := m.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	return append([]byte(nil), x.([]byte)...), true, nil
}

// Put implements Backend.
func (m *MemoryBackend) Put(_ context.Context, key string, value []byte) error {
	m.cache.Set(key, append([]byte(nil), value...), cache.NoExpiration)
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.cache.Flush()
	return nil
}
