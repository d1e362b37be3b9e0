// Package tiered composes the origin, the distributed stores and the local
// buffers into lookup chains.
package tiered

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goflare.io/tierbench/internal/cache/distributed"
	"goflare.io/tierbench/internal/metrics"
	"goflare.io/tierbench/internal/models"
)

// Cache is the lookup contract shared by every chain.
type Cache interface {
	FetchCurrent(ctx context.Context, instrument, timeframe string) (models.Bar, error)
	FetchHistory(ctx context.Context, instrument string, count int, timeframe string) ([]models.Bar, error)
	Metrics() *metrics.Engine
	Close() error
}

// Tier names recorded in metrics.
const (
	TierLocal           = "local"
	TierLocalBulk       = "local_bulk"
	TierDistributed     = "distributed"
	TierDistributedBulk = "distributed_bulk"
	TierShared          = "shared"
	TierSharedBulk      = "shared_bulk"
)

const tracerName = "goflare.io/tierbench/tiered"

// Remote is one key/value tier of a chain, named for metrics.
type Remote struct {
	Name  string
	Store distributed.Store
}

// Distributed names s as the Redis-backed tier.
func Distributed(s distributed.Store) Remote {
	return Remote{Name: TierDistributed, Store: s}
}

// Shared names s as the cross-worker tier.
func Shared(s distributed.Store) Remote {
	return Remote{Name: TierShared, Store: s}
}

func (r Remote) bulkName() string {
	return r.Name + "_bulk"
}

func currentHitOp(tier string) string {
	return "current_" + tier + "_hit"
}

func historyHitOp(count int, tier string) string {
	return fmt.Sprintf("history_%d_%s_hit", count, tier)
}

func historyOriginOp(count int) string {
	return fmt.Sprintf("history_%d_fetch_origin", count)
}

const currentOriginOp = "current_fetch_origin"

// originError makes sure err classifies as ErrOriginUnavailable.
func originError(instrument string, err error) error {
	if errors.Is(err, models.ErrOriginUnavailable) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("fetch %s from origin: %w", instrument, err)
	}
	return fmt.Errorf("fetch %s from origin: %w: %w", instrument, models.ErrOriginUnavailable, err)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
