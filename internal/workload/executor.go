package workload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goflare.io/tierbench/internal/models"
	"goflare.io/tierbench/internal/tiered"
	"goflare.io/tierbench/internal/utils"
)

// Executor runs strategies against one cache.
type Executor struct {
	cache      tiered.Cache
	computeMin time.Duration
	computeMax time.Duration
	logger     *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewExecutor creates an Executor that pauses between computeMin and
// computeMax after each strategy's lookups.
func NewExecutor(cache tiered.Cache, computeMin, computeMax time.Duration, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cache:      cache,
		computeMin: computeMin,
		computeMax: computeMax,
		logger:     logger,
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
}

// Execute fetches the current bar and the lookback history of every
// instrument of unit concurrently, then simulates indicator computation.
func (e *Executor) Execute(ctx context.Context, unit models.WorkloadUnit) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range unit.Instruments {
		g.Go(utils.Safe(func() error {
			if _, err := e.cache.FetchCurrent(gctx, inst, unit.Timeframe); err != nil {
				return fmt.Errorf("strategy %s: current %s: %w", unit.ID, inst, err)
			}
			if _, err := e.cache.FetchHistory(gctx, inst, unit.Lookback, unit.Timeframe); err != nil {
				return fmt.Errorf("strategy %s: history %s: %w", unit.ID, inst, err)
			}
			return nil
		}))
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("Strategy execution failed", zap.String("strategy", unit.ID), zap.Error(err))
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.computeDelay()):
		return nil
	}
}

// ExecuteAll runs units concurrently and waits for all of them.
func (e *Executor) ExecuteAll(ctx context.Context, units []models.WorkloadUnit) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range units {
		g.Go(utils.Safe(func() error {
			return e.Execute(gctx, u)
		}))
	}
	return g.Wait()
}

// Due returns the units whose cadence divides minute.
func Due(units []models.WorkloadUnit, minute int) []models.WorkloadUnit {
	var due []models.WorkloadUnit
	for _, u := range units {
		cadence := u.CadenceMinutes
		if cadence < 1 {
			cadence = 1
		}
		if minute%cadence == 0 {
			due = append(due, u)
		}
	}
	return due
}

func (e *Executor) computeDelay() time.Duration {
	if e.computeMax <= e.computeMin {
		return e.computeMin
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.computeMin + time.Duration(e.rng.Int64N(int64(e.computeMax-e.computeMin)))
}
