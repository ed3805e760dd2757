package stores

import (
	"context"
	"sync"
	"time"

	"github.com/roleguard/roleguard/utils"
)

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

// MemoryKVStore is an in-process KVStore used in tests and single-node
// deployments that skip durable storage.
type MemoryKVStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{items: make(map[string]memoryItem)}
}

func (s *MemoryKVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return item.data, true, nil
}

func (s *MemoryKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item := memoryItem{data: value}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = item
	s.mu.Unlock()
	return nil
}

func (s *MemoryKVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryKVStore) DeleteByPattern(ctx context.Context, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.items {
		if utils.MatchKey(key, pattern) {
			delete(s.items, key)
		}
	}
	return nil
}

func (s *MemoryKVStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.items = make(map[string]memoryItem)
	s.mu.Unlock()
	return nil
}
