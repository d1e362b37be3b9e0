package tierbench_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/tierbench"
)

func newBench(t *testing.T, opts ...tierbench.Option) *tierbench.Bench {
	t.Helper()
	b, err := tierbench.New(context.Background(), nil, append([]tierbench.Option{
		tierbench.WithLogger(zap.NewNop()),
		tierbench.WithMockOrigin(),
		tierbench.WithMockLatency(0, 0),
		tierbench.WithExecution(20*time.Millisecond, 10*time.Millisecond),
		tierbench.WithComputeDelay(0, 0),
		tierbench.WithWarmupBars(100),
	}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestGeneratePlansAndRun(t *testing.T) {
	b := newBench(t, tierbench.WithRetry(2, time.Millisecond, 10*time.Millisecond, "linear"))

	plans, load, err := b.GeneratePlans(7, 2, 6, tierbench.ThreeTierSticky, "")
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, []int{3, 3}, load.PerWorker)
	for i, p := range plans {
		assert.Equal(t, i, p.WorkerID)
		assert.Equal(t, tierbench.ThreeTierSticky, p.CacheMode)
		assert.Equal(t, 100, p.Warmup.Bars)
	}

	out, err := b.Run(context.Background(), plans, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Aggregate.NumWorkers)
	assert.Equal(t, "linear", b.Config().ResilienceConfig.Backoff)
}

func TestAssignPlansFromWorkloadFile(t *testing.T) {
	b := newBench(t)
	path := filepath.Join(t.TempDir(), "workload.yaml")
	units := []tierbench.WorkloadUnit{
		{ID: "a", Kind: "scalping", Timeframe: "1m", Lookback: 20, CadenceMinutes: 1, Instruments: []string{"AAPL"}},
		{ID: "b", Kind: "swing", Timeframe: "15m", Lookback: 50, CadenceMinutes: 15, Instruments: []string{"MSFT", "NVDA"}},
		{ID: "c", Kind: "momentum", Timeframe: "5m", Lookback: 30, CadenceMinutes: 5, Instruments: []string{"AMZN"}},
	}
	require.NoError(t, tierbench.WriteWorkload(path, tierbench.WorkloadFile{Seed: 1, Workers: 2, Units: units}))

	file, err := tierbench.ReadWorkload(path)
	require.NoError(t, err)
	plans, load, err := b.AssignPlans(file.Units, 2, tierbench.TwoTier, tierbench.LeastLoaded)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, 3, load.Total)

	_, _, err = b.AssignPlans(file.Units, 0, tierbench.TwoTier, tierbench.Random)
	assert.Error(t, err)
}

func TestNewPlanAndCache(t *testing.T) {
	b := newBench(t, tierbench.With(func(c *tierbench.Config) error {
		c.CurrentWindow = 10
		return nil
	}))
	ctx := context.Background()

	mode, err := tierbench.ParseCacheMode("3-tier-shared")
	require.NoError(t, err)
	policy, err := tierbench.ParsePolicy("least-loaded")
	require.NoError(t, err)
	assert.Equal(t, tierbench.LeastLoaded, policy)

	var c tierbench.Cache
	c, err = b.NewCache(ctx, mode)
	require.NoError(t, err)
	bars, err := c.FetchHistory(ctx, "AAPL", 5, "1m")
	require.NoError(t, err)
	assert.Len(t, bars, 5)

	plan := b.NewPlan(0, 1, mode, []tierbench.WorkloadUnit{
		{ID: "a", Kind: "scalping", Timeframe: "1m", Lookback: 5, CadenceMinutes: 1, Instruments: []string{"AAPL"}},
	})
	var spawner tierbench.Spawner
	out, err := b.Run(ctx, []tierbench.Plan{plan}, spawner)
	require.NoError(t, err)
	assert.Len(t, out.Results, 1)
}
