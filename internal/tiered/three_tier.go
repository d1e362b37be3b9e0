package tiered

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/tierbench/internal/cache/local"
	"goflare.io/tierbench/internal/config"
	"goflare.io/tierbench/internal/models"
	"goflare.io/tierbench/internal/origin"
	"goflare.io/tierbench/internal/utils"
)

// ThreeTier consults private local buffers, then each remote tier in
// order, then the origin. A hit at a remote tier backfills the local
// buffers and every remote tier before it.
type ThreeTier struct {
	base
	local         *local.Store
	remotes       []Remote
	currentWindow int
	now           func() time.Time
}

// NewThreeTier creates a 3-tier chain. remotes are consulted in order.
func NewThreeTier(fetcher origin.Fetcher, cfg *config.Config, remotes ...Remote) *ThreeTier {
	return &ThreeTier{
		base:          newBase(fetcher, cfg),
		local:         local.NewStore(cfg.ShardCount, cfg.RingCapacity, cfg.Logger),
		remotes:       remotes,
		currentWindow: cfg.CurrentWindow,
		now:           time.Now,
	}
}

// Local exposes the private buffers for memory accounting.
func (c *ThreeTier) Local() *local.Store {
	return c.local
}

// isRecent reports whether bar started within the staleness window of timeframe.
func (c *ThreeTier) isRecent(bar models.Bar, timeframe string) bool {
	return c.now().Sub(bar.StartTime) < models.StalenessWindow(timeframe)
}

// FetchCurrent returns the newest bar of instrument.
func (c *ThreeTier) FetchCurrent(ctx context.Context, instrument, timeframe string) (models.Bar, error) {
	key := models.CurrentKey(instrument, timeframe).String()
	ctx, span := c.tracer.Start(ctx, "ThreeTier.FetchCurrent", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	start := time.Now()

	if buf, ok := c.local.Get(instrument); ok {
		if bar, ok := buf.Current(); ok && c.isRecent(bar, timeframe) {
			c.metrics.RecordCacheHit(TierLocal)
			c.metrics.RecordLatency(currentHitOp(TierLocal), utils.Millis(time.Since(start)))
			span.SetAttributes(attribute.String("tier", TierLocal))
			return bar, nil
		}
	}
	c.metrics.RecordCacheMiss(TierLocal)

	for i, r := range c.remotes {
		var bar models.Bar
		found, err := c.get(ctx, r, key, &bar)
		if err != nil {
			return models.Bar{}, fail(span, err)
		}
		if !found {
			c.metrics.RecordCacheMiss(r.Name)
			continue
		}

		c.metrics.RecordCacheHit(r.Name)
		c.local.Append(instrument, bar)
		if err := c.set(ctx, c.remotes[:i], key, bar, c.currentTTL); err != nil {
			return models.Bar{}, fail(span, err)
		}
		c.metrics.RecordLatency(currentHitOp(r.Name), utils.Millis(time.Since(start)))
		span.SetAttributes(attribute.String("tier", r.Name))
		return bar, nil
	}

	bars, err := c.origin.Fetch(ctx, instrument, c.currentWindow)
	if err != nil {
		return models.Bar{}, fail(span, originError(instrument, err))
	}

	var bar models.Bar
	if len(bars) > 0 {
		bar = bars[len(bars)-1]
		c.local.Append(instrument, bars...)
		// 空結果不寫入遠端，下次查詢仍回源
		if err := c.set(ctx, c.remotes, key, bar, c.currentTTL); err != nil {
			return models.Bar{}, fail(span, err)
		}
	}

	c.metrics.RecordLatency(currentOriginOp, utils.Millis(time.Since(start)))
	span.SetAttributes(attribute.String("tier", "origin"))
	return bar, nil
}

// FetchHistory returns the last count bars of instrument.
func (c *ThreeTier) FetchHistory(ctx context.Context, instrument string, count int, timeframe string) ([]models.Bar, error) {
	key := models.HistoryKey(instrument, timeframe, count).String()
	ctx, span := c.tracer.Start(ctx, "ThreeTier.FetchHistory", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	start := time.Now()

	if buf, ok := c.local.Get(instrument); ok && !buf.IsStale(models.StalenessWindow(timeframe)) {
		if bars, ok := buf.LastN(count); ok {
			c.metrics.RecordCacheHit(TierLocalBulk)
			c.metrics.RecordLatency(historyHitOp(count, TierLocal), utils.Millis(time.Since(start)))
			span.SetAttributes(attribute.String("tier", TierLocal))
			return bars, nil
		}
	}
	c.metrics.RecordCacheMiss(TierLocalBulk)

	for i, r := range c.remotes {
		var bars []models.Bar
		found, err := c.get(ctx, r, key, &bars)
		if err != nil {
			return nil, fail(span, err)
		}
		if !found {
			c.metrics.RecordCacheMiss(r.bulkName())
			continue
		}

		c.metrics.RecordCacheHit(r.bulkName())
		c.local.Append(instrument, bars...)
		if err := c.set(ctx, c.remotes[:i], key, bars, c.historyTTL); err != nil {
			return nil, fail(span, err)
		}
		c.metrics.RecordLatency(historyHitOp(count, r.Name), utils.Millis(time.Since(start)))
		span.SetAttributes(attribute.String("tier", r.Name))
		return bars, nil
	}

	bars, err := c.origin.Fetch(ctx, instrument, count)
	if err != nil {
		return nil, fail(span, originError(instrument, err))
	}

	if len(bars) > 0 {
		c.local.Append(instrument, bars...)
		current := models.CurrentKey(instrument, timeframe).String()
		if err := c.set(ctx, c.remotes, current, bars[len(bars)-1], c.currentTTL); err != nil {
			return nil, fail(span, err)
		}
		if err := c.set(ctx, c.remotes, key, bars, c.historyTTL); err != nil {
			return nil, fail(span, err)
		}
	}

	c.metrics.RecordLatency(historyOriginOp(count), utils.Millis(time.Since(start)))
	span.SetAttributes(attribute.String("tier", "origin"))
	return bars, nil
}

// Close logs the local footprint. Remote stores belong to the caller.
func (c *ThreeTier) Close() error {
	c.logger.Debug("Closing three-tier cache",
		zap.Int("instruments", len(c.local.Instruments())),
		zap.Int64("local_bytes", c.local.ApproxBytes()))
	return nil
}
