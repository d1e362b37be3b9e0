package distributed

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"goflare.io/tierbench/internal/config"
)

// Open returns the distributed tier: Redis when client is set, otherwise
// an in-process stand-in shared by whoever holds the returned store.
func Open(ctx context.Context, client redis.Cmdable, cfg *config.Config) (Store, error) {
	if client == nil {
		cfg.Logger.Info("No Redis client configured, using in-memory distributed tier")
		return NewMemoryStore(), nil
	}
	return NewRedisStore(ctx, client, cfg.Redis.KeyPrefix, cfg)
}

// OpenShared returns the cross-worker tier of kind. The redis kind
// namespaces its keys with cfg.Redis.SharedPrefix and needs client.
func OpenShared(ctx context.Context, kind string, client redis.Cmdable, cfg *config.Config) (Store, error) {
	switch kind {
	case config.SharedStoreMap:
		return NewMemoryStore(), nil
	case config.SharedStoreRistretto:
		return NewRistrettoStore(cfg.CacheBehaviorConfig.SharedMaxCost, cfg.Logger)
	case config.SharedStoreRedis:
		if client == nil {
			return nil, fmt.Errorf("shared store %q requires a Redis client", kind)
		}
		return NewRedisStore(ctx, client, cfg.Redis.KeyPrefix+cfg.Redis.SharedPrefix, cfg)
	default:
		return nil, fmt.Errorf("unsupported shared store: %s", kind)
	}
}
