package tiered

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"goflare.io/tierbench/internal/cache/distributed"
	"goflare.io/tierbench/internal/config"
	"goflare.io/tierbench/internal/models"
	"goflare.io/tierbench/internal/origin"
	"goflare.io/tierbench/internal/utils"
)

// TwoTier reads through one distributed store to the origin.
type TwoTier struct {
	base
	remote Remote
}

// NewTwoTier creates a 2-tier chain over store.
func NewTwoTier(store distributed.Store, fetcher origin.Fetcher, cfg *config.Config) *TwoTier {
	return &TwoTier{
		base:   newBase(fetcher, cfg),
		remote: Distributed(store),
	}
}

// FetchCurrent returns the newest bar of instrument.
func (c *TwoTier) FetchCurrent(ctx context.Context, instrument, timeframe string) (models.Bar, error) {
	key := models.CurrentKey(instrument, timeframe).String()
	ctx, span := c.tracer.Start(ctx, "TwoTier.FetchCurrent", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	start := time.Now()

	var bar models.Bar
	found, err := c.get(ctx, c.remote, key, &bar)
	if err != nil {
		return models.Bar{}, fail(span, err)
	}
	if found {
		c.metrics.RecordCacheHit(c.remote.Name)
		c.metrics.RecordLatency(currentHitOp(c.remote.Name), utils.Millis(time.Since(start)))
		span.SetAttributes(attribute.String("tier", c.remote.Name))
		return bar, nil
	}
	c.metrics.RecordCacheMiss(c.remote.Name)

	bars, err := c.origin.Fetch(ctx, instrument, 1)
	if err != nil {
		return models.Bar{}, fail(span, originError(instrument, err))
	}
	bar = models.Bar{}
	if len(bars) > 0 {
		bar = bars[0]
	}

	if err := c.set(ctx, []Remote{c.remote}, key, bar, c.currentTTL); err != nil {
		return models.Bar{}, fail(span, err)
	}

	c.metrics.RecordLatency(currentOriginOp, utils.Millis(time.Since(start)))
	span.SetAttributes(attribute.String("tier", "origin"))
	return bar, nil
}

// FetchHistory returns the last count bars of instrument.
func (c *TwoTier) FetchHistory(ctx context.Context, instrument string, count int, timeframe string) ([]models.Bar, error) {
	key := models.HistoryKey(instrument, timeframe, count).String()
	ctx, span := c.tracer.Start(ctx, "TwoTier.FetchHistory", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()
	start := time.Now()

	var bars []models.Bar
	found, err := c.get(ctx, c.remote, key, &bars)
	if err != nil {
		return nil, fail(span, err)
	}
	if found {
		c.metrics.RecordCacheHit(c.remote.bulkName())
		c.metrics.RecordLatency(historyHitOp(count, c.remote.Name), utils.Millis(time.Since(start)))
		span.SetAttributes(attribute.String("tier", c.remote.Name))
		return bars, nil
	}
	c.metrics.RecordCacheMiss(c.remote.bulkName())

	bars, err = c.origin.Fetch(ctx, instrument, count)
	if err != nil {
		return nil, fail(span, originError(instrument, err))
	}

	if err := c.set(ctx, []Remote{c.remote}, key, bars, c.historyTTL); err != nil {
		return nil, fail(span, err)
	}

	c.metrics.RecordLatency(historyOriginOp(count), utils.Millis(time.Since(start)))
	span.SetAttributes(attribute.String("tier", "origin"))
	return bars, nil
}

// Close releases nothing; the store belongs to the caller.
func (c *TwoTier) Close() error {
	return nil
}
