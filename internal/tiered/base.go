package tiered

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/tierbench/internal/config"
	"goflare.io/tierbench/internal/metrics"
	"goflare.io/tierbench/internal/origin"
	"goflare.io/tierbench/pkg/codec"
)

// base holds what both chains share: the origin, the payload codec and
// the remote-tier error policy.
type base struct {
	origin     origin.Fetcher
	codec      codec.Codec
	metrics    *metrics.Engine
	tracer     trace.Tracer
	currentTTL time.Duration
	historyTTL time.Duration
	fallback   bool
	logger     *zap.Logger
}

func newBase(fetcher origin.Fetcher, cfg *config.Config) base {
	cd := cfg.Serialization.Codec
	if cd == nil {
		cd = codec.JSON{}
	}
	return base{
		origin:     fetcher,
		codec:      cd,
		metrics:    metrics.NewEngine(),
		tracer:     otel.Tracer(tracerName),
		currentTTL: cfg.CurrentTTL,
		historyTTL: cfg.HistoryTTL,
		fallback:   cfg.CacheBehaviorConfig.FallbackToOrigin,
		logger:     cfg.Logger,
	}
}

// get decodes the entry under key into v. An undecodable entry is a miss.
// Backend errors are returned unless fallback is on, in which case they
// are logged and reported as a miss.
func (b *base) get(ctx context.Context, r Remote, key string, v any) (bool, error) {
	data, found, err := r.Store.Get(ctx, key)
	if err != nil {
		if !b.fallback {
			return false, err
		}
		b.logger.Warn("Remote tier unavailable, treating as miss",
			zap.String("tier", r.Name), zap.String("key", key), zap.Error(err))
		return false, nil
	}
	if !found {
		return false, nil
	}

	if err := b.codec.Unmarshal(data, v); err != nil {
		b.logger.Warn("Discarding undecodable cache entry",
			zap.String("tier", r.Name), zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// set writes v under key in every given tier.
func (b *base) set(ctx context.Context, remotes []Remote, key string, v any, ttl time.Duration) error {
	if len(remotes) == 0 {
		return nil
	}

	data, err := b.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	for _, r := range remotes {
		if err := r.Store.SetWithTTL(ctx, key, data, ttl); err != nil {
			if !b.fallback {
				return err
			}
			b.logger.Warn("Remote tier write failed",
				zap.String("tier", r.Name), zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

func (b *base) Metrics() *metrics.Engine {
	return b.metrics
}
