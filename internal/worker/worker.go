package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goflare.io/tierbench/internal/cache/distributed"
	"goflare.io/tierbench/internal/config"
	"goflare.io/tierbench/internal/metrics"
	"goflare.io/tierbench/internal/models"
	"goflare.io/tierbench/internal/origin"
	"goflare.io/tierbench/internal/sysmetrics"
	"goflare.io/tierbench/internal/tiered"
	"goflare.io/tierbench/internal/utils"
	"goflare.io/tierbench/internal/workload"
)

// Env holds what workers of one process share. Distributed and Shared
// belong to the caller and are not closed by workers.
type Env struct {
	Config      *config.Config
	Fetcher     origin.Fetcher
	Distributed distributed.Store
	// Shared is the cross-worker tier, required by ThreeTierShared.
	Shared distributed.Store
	// Collector, when set, exposes each worker's metrics engine.
	Collector *metrics.Collector
}

// Worker runs one plan.
type Worker struct {
	plan   Plan
	env    Env
	logger *zap.Logger
}

func New(plan Plan, env Env) *Worker {
	return &Worker{
		plan:   plan,
		env:    env,
		logger: env.Config.Logger.With(zap.Int("worker", plan.WorkerID)),
	}
}

// NewCache builds the lookup chain of mode over env's stores.
func NewCache(mode CacheMode, env Env) (tiered.Cache, error) {
	cfg := env.Config
	switch mode {
	case TwoTier:
		return tiered.NewTwoTier(env.Distributed, env.Fetcher, cfg), nil
	case ThreeTierRedundant, ThreeTierSticky:
		return tiered.NewThreeTier(env.Fetcher, cfg, tiered.Distributed(env.Distributed)), nil
	case ThreeTierShared:
		if env.Shared == nil {
			return nil, errors.WithStack(models.ErrSharedStoreRequired)
		}
		return tiered.NewThreeTier(env.Fetcher, cfg,
			tiered.Shared(env.Shared), tiered.Distributed(env.Distributed)), nil
	default:
		return nil, errors.Wrapf(models.ErrUnknownCacheMode, "mode %q", mode)
	}
}

// Run warms the cache, then executes the timed phase. Any lookup error
// aborts the run.
func (w *Worker) Run(ctx context.Context) (*Result, error) {
	cache, err := NewCache(w.plan.CacheMode, w.env)
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	if w.env.Collector != nil {
		w.env.Collector.Register(strconv.Itoa(w.plan.WorkerID), cache.Metrics())
	}

	instruments := workload.UniqueInstruments(w.plan.Units)
	sampler := sysmetrics.NewSampler(w.logger)
	sampler.Start()

	w.logger.Info("Worker starting",
		zap.String("mode", string(w.plan.CacheMode)),
		zap.Int("strategies", len(w.plan.Units)),
		zap.Int("instruments", len(instruments)))

	warmStart := time.Now()
	if err := w.warmup(ctx, cache, instruments); err != nil {
		return nil, err
	}
	warmup := time.Since(warmStart)
	sampler.Snapshot()

	minutes, iterations, testDuration, err := w.execute(ctx, cache, instruments, sampler)
	if err != nil {
		return nil, err
	}
	sampler.Snapshot()

	res := &Result{
		WorkerID:       w.plan.WorkerID,
		CacheMode:      w.plan.CacheMode,
		NumStrategies:  len(w.plan.Units),
		NumInstruments: len(instruments),
		Timings: Timings{
			WarmupSeconds:       warmup.Seconds(),
			TestDurationSeconds: testDuration.Seconds(),
			FetchIterationsMS:   iterationStats(iterations),
			MinutesExecuted:     len(minutes),
		},
		MinuteByMinute: minutes,
		Performance:    cache.Metrics().Summarize(),
		System:         sampler.Summary(),
	}
	if tt, ok := cache.(*tiered.ThreeTier); ok {
		res.LocalCacheMB = float64(tt.Local().ApproxBytes()) / (1024 * 1024)
	}

	w.logger.Info("Worker finished",
		zap.Float64("warmup_seconds", res.Timings.WarmupSeconds),
		zap.Float64("test_seconds", res.Timings.TestDurationSeconds),
		zap.Int("minutes", res.Timings.MinutesExecuted))
	return res, nil
}

// warmup loads the configured history of every instrument concurrently.
func (w *Worker) warmup(ctx context.Context, cache tiered.Cache, instruments []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range instruments {
		g.Go(utils.Safe(func() error {
			_, err := cache.FetchHistory(gctx, inst, w.plan.Warmup.Bars, w.plan.Warmup.Timeframe)
			return err
		}))
	}
	return errors.Wrapf(g.Wait(), "worker %d warmup", w.plan.WorkerID)
}

// execute runs the minute loop until the configured duration has passed.
// Each minute refreshes the current bar of every instrument, then runs
// the strategies due that minute.
func (w *Worker) execute(ctx context.Context, cache tiered.Cache, instruments []string, sampler *sysmetrics.Sampler) ([]MinuteMetric, []float64, time.Duration, error) {
	exec := workload.NewExecutor(cache, w.plan.Execution.ComputeMin, w.plan.Execution.ComputeMax, w.logger)
	tick := w.plan.Execution.MinuteTick

	var (
		minutes    []MinuteMetric
		iterations []float64
	)
	start := time.Now()
	for minute := 0; time.Since(start) < w.plan.Execution.Duration; minute++ {
		minuteStart := time.Now()

		if err := w.refresh(ctx, cache, instruments); err != nil {
			return nil, nil, 0, errors.Wrapf(err, "worker %d minute %d", w.plan.WorkerID, minute)
		}

		if due := workload.Due(w.plan.Units, minute); len(due) > 0 {
			iterStart := time.Now()
			if err := exec.ExecuteAll(ctx, due); err != nil {
				return nil, nil, 0, errors.Wrapf(err, "worker %d minute %d", w.plan.WorkerID, minute)
			}
			ms := utils.Millis(time.Since(iterStart))
			iterations = append(iterations, ms)
			minutes = append(minutes, MinuteMetric{
				Minute:             minute,
				StrategiesExecuted: len(due),
				ExecutionTimeMS:    ms,
			})
			w.logger.Debug("Minute executed", zap.Int("minute", minute), zap.Int("strategies", len(due)), zap.Float64("ms", ms))
		}
		sampler.Snapshot()

		if wait := tick - time.Since(minuteStart); wait > 0 {
			select {
			case <-ctx.Done():
				return nil, nil, 0, errors.WithStack(ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return minutes, iterations, time.Since(start), nil
}

// refresh fetches the current 1m bar of every instrument and waits for all of them.
func (w *Worker) refresh(ctx context.Context, cache tiered.Cache, instruments []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range instruments {
		g.Go(utils.Safe(func() error {
			_, err := cache.FetchCurrent(gctx, inst, "1m")
			return err
		}))
	}
	return g.Wait()
}
