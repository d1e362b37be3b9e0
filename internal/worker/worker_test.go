package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/tierbench/internal/assign"
	"goflare.io/tierbench/internal/cache/distributed"
	"goflare.io/tierbench/internal/config"
	"goflare.io/tierbench/internal/metrics"
	"goflare.io/tierbench/internal/models"
	"goflare.io/tierbench/internal/origin"
	"goflare.io/tierbench/internal/sysmetrics"
	"goflare.io/tierbench/internal/tiered"
	"goflare.io/tierbench/internal/workload"
)

func newConfig(t testing.TB) *config.Config {
	t.Helper()
	cfg, err := config.NewConfig(
		config.WithLogger(zap.NewNop()),
		config.WithShardCount(4),
		config.WithMockLatency(0, 0),
		config.WithExecution(25*time.Millisecond, 10*time.Millisecond),
		config.WithComputeDelay(0, time.Millisecond),
		config.WithWarmupBars(200),
	)
	require.NoError(t, err)
	return cfg
}

func newEnv(t testing.TB) Env {
	cfg := newConfig(t)
	return Env{
		Config:      cfg,
		Fetcher:     origin.NewMockFetcher(cfg.Origin),
		Distributed: distributed.NewMemoryStore(),
		Shared:      distributed.NewMemoryStore(),
	}
}

func testUnits() []models.WorkloadUnit {
	return []models.WorkloadUnit{
		{ID: "high_frequency_0", Kind: "high_frequency", Timeframe: "1m", Lookback: 50, CadenceMinutes: 1, Instruments: []string{"AAPL", "MSFT"}},
		{ID: "momentum_1", Kind: "momentum", Timeframe: "5m", Lookback: 100, CadenceMinutes: 5, Instruments: []string{"AAPL", "NVDA", "AMZN"}},
	}
}

func TestParseCacheMode(t *testing.T) {
	for _, m := range []CacheMode{TwoTier, ThreeTierRedundant, ThreeTierSticky, ThreeTierShared} {
		got, err := ParseCacheMode(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseCacheMode("4-tier")
	assert.ErrorIs(t, err, models.ErrUnknownCacheMode)

	assert.Equal(t, assign.Sticky, ThreeTierSticky.DefaultPolicy())
	assert.Equal(t, assign.Random, TwoTier.DefaultPolicy())
}

func TestWorkerRun(t *testing.T) {
	tests := []struct {
		mode CacheMode
		tier string
	}{
		{TwoTier, tiered.TierDistributed},
		{ThreeTierRedundant, tiered.TierLocal},
		{ThreeTierSticky, tiered.TierLocal},
		{ThreeTierShared, tiered.TierSharedBulk},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			env := newEnv(t)
			env.Collector = metrics.NewCollector()
			plan := NewPlan(3, 4, tt.mode, testUnits(), env.Config.Execution)

			res, err := New(plan, env).Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 3, res.WorkerID)
			assert.Equal(t, tt.mode, res.CacheMode)
			assert.Equal(t, 2, res.NumStrategies)
			assert.Equal(t, 4, res.NumInstruments)
			assert.Greater(t, res.Timings.WarmupSeconds, 0.0)
			assert.GreaterOrEqual(t, res.Timings.TestDurationSeconds, 0.025)
			require.NotEmpty(t, res.MinuteByMinute)
			assert.Equal(t, len(res.MinuteByMinute), res.Timings.MinutesExecuted)

			first := res.MinuteByMinute[0]
			assert.Equal(t, 0, first.Minute)
			assert.Equal(t, 2, first.StrategiesExecuted)
			for _, m := range res.MinuteByMinute[1:] {
				assert.Equal(t, 1, m.StrategiesExecuted, "only the 1m strategy runs off the 5m boundary")
			}
			assert.GreaterOrEqual(t, res.Timings.FetchIterationsMS.Max, res.Timings.FetchIterationsMS.Min)

			assert.Contains(t, res.Performance.CacheHitRates, tt.tier)
			assert.Greater(t, res.System.SnapshotsCollected, 1)
			if tt.mode == TwoTier {
				assert.Zero(t, res.LocalCacheMB)
			} else {
				assert.Greater(t, res.LocalCacheMB, 0.0)
			}
		})
	}
}

func TestWorkerRunZeroDuration(t *testing.T) {
	env := newEnv(t)
	plan := NewPlan(0, 1, ThreeTierRedundant, testUnits(), env.Config.Execution)
	plan.Execution.Duration = 0

	res, err := New(plan, env).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Timings.MinutesExecuted)
	assert.Empty(t, res.MinuteByMinute)
	assert.Equal(t, IterationStats{}, res.Timings.FetchIterationsMS)
}

func TestWorkerSharedNeedsStore(t *testing.T) {
	env := newEnv(t)
	env.Shared = nil
	_, err := New(NewPlan(0, 1, ThreeTierShared, testUnits(), env.Config.Execution), env).Run(context.Background())
	assert.ErrorIs(t, err, models.ErrSharedStoreRequired)
}

func TestWorkerUnknownMode(t *testing.T) {
	env := newEnv(t)
	_, err := New(NewPlan(0, 1, "4-tier", testUnits(), env.Config.Execution), env).Run(context.Background())
	assert.ErrorIs(t, err, models.ErrUnknownCacheMode)
}

func TestWorkerAbortsOnOriginFailure(t *testing.T) {
	env := newEnv(t)
	env.Fetcher = origin.FetcherFunc(func(context.Context, string, int) ([]models.Bar, error) {
		return nil, errors.New("connection reset")
	})
	_, err := New(NewPlan(0, 1, ThreeTierRedundant, testUnits(), env.Config.Execution), env).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOriginUnavailable)
	assert.Contains(t, err.Error(), "warmup")
}

func TestWorkerStopsOnCancel(t *testing.T) {
	env := newEnv(t)
	plan := NewPlan(0, 1, ThreeTierRedundant, testUnits(), env.Config.Execution)
	plan.Execution.Duration = time.Hour
	plan.Execution.MinuteTick = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := New(plan, env).Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPlans(t *testing.T) {
	cfg := newConfig(t)

	a, err := assign.New(assign.LeastLoaded, 2)
	require.NoError(t, err)
	plans := AssignedPlans(testUnits(), a, TwoTier, cfg.Execution)
	require.Len(t, plans, 2)
	assert.Equal(t, "high_frequency_0", plans[0].Units[0].ID)
	assert.Equal(t, "momentum_1", plans[1].Units[0].ID)
	assert.Equal(t, 2, plans[1].NumWorkers)
	assert.Equal(t, Warmup{Bars: 200, Timeframe: "1m"}, plans[0].Warmup)
	assert.Equal(t, 25*time.Millisecond, plans[0].Execution.Duration)

	gen, err := workload.NewGenerator(1, 3, nil)
	require.NoError(t, err)
	a, err = assign.New(assign.Random, 3)
	require.NoError(t, err)
	plans, err = GroupedPlans(gen, 10, a, ThreeTierSticky, cfg.Execution)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Len(t, plans[0].Units, 4)
	assert.Len(t, plans[1].Units, 3)
	assert.Len(t, plans[2].Units, 3)
	assert.Equal(t, []int{4, 3, 3}, a.LoadBalanceStats().PerWorker)
	assert.Equal(t, 2, a.Lookup(plans[2].Units[0].ID))
}

func hitResult(id int, hits, misses int64, rss float64) Result {
	rates := map[string]metrics.HitRate{}
	if hits+misses > 0 {
		rates[tiered.TierLocal] = metrics.HitRate{Hits: hits, Misses: misses, Total: hits + misses}
	}
	r := Result{
		WorkerID:    id,
		Performance: metrics.Summary{CacheHitRates: rates},
		Timings:     Timings{TestDurationSeconds: float64(10 + id)},
	}
	r.System.Memory = sysmetrics.MemorySummary{MaxRSSMB: rss}
	return r
}

func TestAggregate(t *testing.T) {
	s := Aggregate([]Result{hitResult(0, 10, 0, 100), hitResult(1, 0, 10, 300)})

	require.Contains(t, s.CacheHitRates, tiered.TierLocal)
	assert.InDelta(t, 50.0, s.CacheHitRates[tiered.TierLocal].Rate, 1e-9)
	assert.Equal(t, int64(20), s.CacheHitRates[tiered.TierLocal].Total)
	assert.Equal(t, 2, s.NumWorkers)
	assert.Equal(t, 400.0, s.TotalMemoryMB)
	assert.Equal(t, 200.0, s.AvgMemoryMB)
	assert.Equal(t, 2.0, s.MemoryRedundancyFactor)
	assert.Equal(t, []float64{100, 300}, s.PerWorkerMemoryMB)
	assert.Equal(t, 11.0, s.TotalExecutionSeconds)
}

func TestAggregateWithoutMemory(t *testing.T) {
	s := Aggregate([]Result{hitResult(0, 0, 0, 0)})
	assert.Equal(t, 1.0, s.MemoryRedundancyFactor)
	assert.Empty(t, s.CacheHitRates)

	empty := Aggregate(nil)
	assert.Equal(t, 0, empty.NumWorkers)
	assert.Equal(t, 1.0, empty.MemoryRedundancyFactor)
}

type scriptedSpawner struct {
	fail map[int]error
}

func (s scriptedSpawner) Spawn(_ context.Context, plan Plan) (*Result, error) {
	if err := s.fail[plan.WorkerID]; err != nil {
		return nil, err
	}
	r := hitResult(plan.WorkerID, 5, 5, 64)
	return &r, nil
}

func TestCoordinatorRun(t *testing.T) {
	c := NewCoordinator(scriptedSpawner{}, zap.NewNop())
	plans := []Plan{{WorkerID: 2}, {WorkerID: 0}, {WorkerID: 1}}

	out, err := c.Run(context.Background(), plans)
	require.NoError(t, err)
	require.Len(t, out.Results, 3)
	for i, r := range out.Results {
		assert.Equal(t, i, r.WorkerID)
	}
	assert.Equal(t, 3, out.Aggregate.NumWorkers)
	assert.InDelta(t, 50.0, out.Aggregate.CacheHitRates[tiered.TierLocal].Rate, 1e-9)
	assert.Equal(t, int64(3), c.Completed())
	assert.Equal(t, int64(0), c.Failed())
}

func TestCoordinatorCollectsEveryFailure(t *testing.T) {
	c := NewCoordinator(scriptedSpawner{fail: map[int]error{
		2: errors.New("redis down"),
		0: models.ErrOriginUnavailable,
	}}, nil)

	out, err := c.Run(context.Background(), []Plan{{WorkerID: 0}, {WorkerID: 1}, {WorkerID: 2}})
	require.Error(t, err)
	assert.Nil(t, out)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 2)

	var first *WorkerError
	require.True(t, errors.As(merr.Errors[0], &first))
	assert.Equal(t, 0, first.WorkerID)
	assert.Equal(t, "origin unavailable", first.Message)
	assert.NotEmpty(t, first.Stack)
	assert.Equal(t, int64(1), c.Completed())
	assert.Equal(t, int64(2), c.Failed())
}

func TestGoroutineSpawnerRecoversPanics(t *testing.T) {
	_, err := GoroutineSpawner{}.Spawn(context.Background(), Plan{WorkerID: 5})
	var we *WorkerError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, 5, we.WorkerID)
	assert.Contains(t, we.Message, "panic")
	assert.Contains(t, we.Stack, "Spawn")

	// A panic inside a lookup goroutine must fail only its own worker.
	tests := []struct {
		name string
		mode CacheMode
		// panics reports whether a fetch of n bars blows up.
		panics func(n int) bool
	}{
		{"warmup", ThreeTierRedundant, func(int) bool { return true }},
		{"refresh", TwoTier, func(n int) bool { return n == 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t)
			mock := env.Fetcher
			env.Fetcher = origin.FetcherFunc(func(ctx context.Context, instrument string, n int) ([]models.Bar, error) {
				if tt.panics(n) {
					panic("origin decoder bug")
				}
				return mock.Fetch(ctx, instrument, n)
			})

			c := NewCoordinator(GoroutineSpawner{Env: env}, nil)
			_, err := c.Run(context.Background(), []Plan{
				NewPlan(0, 2, tt.mode, testUnits(), env.Config.Execution),
				NewPlan(1, 2, tt.mode, testUnits(), env.Config.Execution),
			})
			require.Error(t, err)
			assert.Equal(t, int64(2), c.Failed())

			var merr *multierror.Error
			require.True(t, errors.As(err, &merr))
			for _, e := range merr.Errors {
				var we *WorkerError
				require.True(t, errors.As(e, &we))
				assert.Contains(t, we.Message, "panic: origin decoder bug")
				assert.Contains(t, we.Stack, "utils.Safe")
			}
		})
	}
}

func TestNewWorkerError(t *testing.T) {
	we := NewWorkerError(1, errors.New("boom"))
	assert.Equal(t, "worker 1: boom", we.Error())
	assert.Contains(t, we.Stack, "TestNewWorkerError")

	assert.Same(t, we, NewWorkerError(9, we))
}

func TestServe(t *testing.T) {
	env := newEnv(t)
	plan := NewPlan(1, 2, ThreeTierRedundant, testUnits(), env.Config.Execution)
	payload, err := json.Marshal(plan)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Serve(context.Background(), bytes.NewReader(payload), &out, env))

	var msg Message
	require.NoError(t, json.Unmarshal(out.Bytes(), &msg))
	require.NotNil(t, msg.Result)
	assert.Nil(t, msg.Error)
	assert.Equal(t, 1, msg.Result.WorkerID)

	out.Reset()
	err = Serve(context.Background(), strings.NewReader("{"), &out, env)
	var we *WorkerError
	require.True(t, errors.As(err, &we))
	require.NoError(t, json.Unmarshal(out.Bytes(), &msg))
	require.NotNil(t, msg.Error)
}

const helperEnv = "TIERBENCH_WORKER_HELPER"

// TestHelperProcess is the child side of the ProcessSpawner tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	env := newEnv(t)
	env.Shared = nil
	if err := Serve(context.Background(), os.Stdin, os.Stdout, env); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func helperSpawner() ProcessSpawner {
	return ProcessSpawner{
		Binary: os.Args[0],
		Args:   []string{"-test.run=^TestHelperProcess$", "--"},
		Env:    []string{helperEnv + "=1"},
	}
}

func TestProcessSpawner(t *testing.T) {
	cfg := newConfig(t)
	plan := NewPlan(2, 3, ThreeTierRedundant, testUnits(), cfg.Execution)

	res, err := helperSpawner().Spawn(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 2, res.WorkerID)
	assert.Equal(t, 4, res.NumInstruments)
	assert.NotEmpty(t, res.MinuteByMinute)
	assert.Contains(t, res.Performance.CacheHitRates, tiered.TierLocal)
}

func TestProcessSpawnerReportsWorkerError(t *testing.T) {
	cfg := newConfig(t)
	plan := NewPlan(1, 2, ThreeTierShared, testUnits(), cfg.Execution)

	_, err := helperSpawner().Spawn(context.Background(), plan)
	var we *WorkerError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, 1, we.WorkerID)
	assert.Contains(t, we.Message, "shared store required")
	assert.NotEmpty(t, we.Stack)
}
