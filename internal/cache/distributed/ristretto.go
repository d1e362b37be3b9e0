package distributed

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// RistrettoStore is a cost-bounded in-process store. Entries are costed by
// payload size, so MaxCost is a byte budget.
type RistrettoStore struct {
	cache  *ristretto.Cache
	logger *zap.Logger
}

// NewRistrettoStore creates a new RistrettoStore instance.
func NewRistrettoStore(maxCost int64, logger *zap.Logger) (*RistrettoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxCost <= 0 {
		maxCost = 1 << 30
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		// 每個項目大約 1KB，計數器取項目數的 10 倍
		NumCounters: maxCost / 100,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Ristretto cache: %w", err)
	}

	return &RistrettoStore{cache: c, logger: logger}, nil
}

func (s *RistrettoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, found := s.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("unexpected value type %T for key %s", v, key)
	}
	return data, true, nil
}

func (s *RistrettoStore) SetWithTTL(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	if !s.cache.SetWithTTL(key, cp, int64(len(cp)), ttl) {
		// Dropped by admission; the next lookup misses and refetches.
		s.logger.Debug("Ristretto SetWithTTL rejected", zap.String("key", key))
		return nil
	}
	s.cache.Wait()
	return nil
}

func (s *RistrettoStore) Close() error {
	s.cache.Close()
	return nil
}
