package distributed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/tierbench/internal/config"
	"goflare.io/tierbench/internal/models"
	"goflare.io/tierbench/internal/retrier"
)

// RedisStore is the distributed tier. Retries, the circuit breaker, the
// call timeout and the bloom filter are all off unless configured.
type RedisStore struct {
	client  redis.Cmdable
	prefix  string
	timeout time.Duration

	retrier *retrier.Retrier
	breaker *gobreaker.CircuitBreaker
	filter  *BloomFilter
	logger  *zap.Logger
}

// NewRedisStore creates a store over client. Every key is prefixed with prefix.
func NewRedisStore(ctx context.Context, client redis.Cmdable, prefix string, cfg *config.Config) (*RedisStore, error) {
	r, err := retrier.FromConfig(cfg.ResilienceConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrier: %w", err)
	}

	s := &RedisStore{
		client:  client,
		prefix:  prefix,
		timeout: cfg.ResilienceConfig.CacheTimeout,
		retrier: r,
		logger:  cfg.Logger,
	}

	if cfg.ResilienceConfig.EnableCircuitBreaker {
		settings := cfg.ResilienceConfig.CircuitBreaker
		settings.Name = "RedisCircuitBreaker:" + prefix
		s.breaker = gobreaker.NewCircuitBreaker(settings)
	}

	if cfg.CacheBehaviorConfig.EnableBloomFilter {
		s.filter = NewBloomFilter(s, cfg.CacheBehaviorConfig.BloomFilterSettings)
		if err := s.filter.Load(ctx); err != nil {
			return nil, fmt.Errorf("failed to load Bloom filter: %w", err)
		}
	}

	return s, nil
}

// Get retrieves a payload from Redis.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	key = s.prefix + key
	if s.filter != nil && !s.filter.Test(key) {
		s.logger.Debug("Bloom filter negative for key", zap.String("key", key))
		return nil, false, nil
	}

	var data []byte
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		data, err = s.client.Get(ctx, key).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %w", models.ErrCacheBackendUnavailable, key, err)
	}
	return data, true, nil
}

// SetWithTTL stores a payload in Redis.
func (s *RedisStore) SetWithTTL(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	key = s.prefix + key
	err := s.do(ctx, func(ctx context.Context) error {
		return s.client.Set(ctx, key, data, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("%w: set %s: %w", models.ErrCacheBackendUnavailable, key, err)
	}

	if s.filter != nil {
		s.filter.Add(key)
	}
	return nil
}

// Close persists the bloom filter. The client is owned by the caller.
func (s *RedisStore) Close() error {
	if s.filter != nil {
		s.filter.Save(context.Background())
	}
	return nil
}

// do runs fn under the configured timeout, retrier and breaker.
// redis.Nil passes through the breaker as a success.
func (s *RedisStore) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.retrier.Run(ctx, func() error {
		callCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		if s.breaker == nil {
			return fn(callCtx)
		}

		var miss bool
		_, err := s.breaker.Execute(func() (any, error) {
			err := fn(callCtx)
			if errors.Is(err, redis.Nil) {
				miss = true
				return nil, nil
			}
			return nil, err
		})
		if miss {
			return redis.Nil
		}
		return err
	})
}
