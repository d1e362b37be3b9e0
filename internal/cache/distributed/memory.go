package distributed

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process TTL map. Expired entries are skipped on
// read and stay counted until overwritten; no janitor goroutine runs.
type MemoryStore struct {
	items *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: gocache.New(gocache.NoExpiration, 0)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, found := m.items.Get(key)
	if !found {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (m *MemoryStore) SetWithTTL(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.items.Set(key, cp, ttl)
	return nil
}

// Len counts stored entries, including expired ones not yet overwritten.
func (m *MemoryStore) Len() int {
	return m.items.ItemCount()
}
