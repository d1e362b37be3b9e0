package distributed

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/tierbench/internal/config"
)

const (
	bloomKeySuffix = "bloom"
	bloomTTL       = 24 * time.Hour
)

// BloomFilter remembers which keys were ever written to Redis, so lookups
// of keys nobody has written skip the round trip.
// It is persisted under {prefix}bloom and reloaded on start.
type BloomFilter struct {
	store    *RedisStore
	settings config.BloomFilterConfig
	logger   *zap.Logger

	mutex  sync.RWMutex
	filter *bloom.BloomFilter
}

// NewBloomFilter creates a new BloomFilter instance.
func NewBloomFilter(store *RedisStore, settings config.BloomFilterConfig) *BloomFilter {
	return &BloomFilter{
		store:    store,
		settings: settings,
		logger:   store.logger,
		filter:   bloom.NewWithEstimates(settings.ExpectedItems, settings.FalsePositiveRate),
	}
}

// Add adds a key to the bloom filter.
func (bf *BloomFilter) Add(key string) {
	bf.mutex.Lock()
	bf.filter.AddString(key)
	bf.mutex.Unlock()
}

// Test checks if a key might be in the bloom filter.
func (bf *BloomFilter) Test(key string) bool {
	bf.mutex.RLock()
	defer bf.mutex.RUnlock()
	return bf.filter.TestString(key)
}

func (bf *BloomFilter) redisKey() string {
	return bf.store.prefix + bloomKeySuffix
}

// Save persists the bloom filter to Redis.
func (bf *BloomFilter) Save(ctx context.Context) {
	bf.mutex.RLock()
	var buf bytes.Buffer
	_, err := bf.filter.WriteTo(&buf)
	bf.mutex.RUnlock()
	if err != nil {
		bf.logger.Error("Failed to serialize bloom filter", zap.Error(err))
		return
	}

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	if err := bf.store.client.Set(ctx, bf.redisKey(), encoded, bloomTTL).Err(); err != nil {
		bf.logger.Error("Failed to save bloom filter to remote cache", zap.Error(err))
	}
}

// Load merges a previously saved filter, if one exists.
func (bf *BloomFilter) Load(ctx context.Context) error {
	encoded, err := bf.store.client.Get(ctx, bf.redisKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			bf.logger.Info("Bloom filter not found in remote cache, creating new one")
			return nil
		}
		return fmt.Errorf("failed to load bloom filter from remote cache: %w", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode bloom filter data: %w", err)
	}

	loaded := bloom.NewWithEstimates(bf.settings.ExpectedItems, bf.settings.FalsePositiveRate)
	if _, err := loaded.ReadFrom(bytes.NewReader(decoded)); err != nil {
		return fmt.Errorf("failed to deserialize bloom filter: %w", err)
	}

	bf.mutex.Lock()
	defer bf.mutex.Unlock()
	if err := bf.filter.Merge(loaded); err != nil {
		// Sized differently; the saved copy wins.
		bf.filter = loaded
	}
	return nil
}
