package workload

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/tierbench/internal/metrics"
	"goflare.io/tierbench/internal/models"
)

func TestUniverse(t *testing.T) {
	seen := make(map[string]struct{}, len(Universe))
	for _, inst := range Universe {
		_, dup := seen[inst]
		assert.False(t, dup, "duplicate instrument %s", inst)
		seen[inst] = struct{}{}
	}
	assert.Greater(t, len(Universe), HotCount)
}

func TestDistribution(t *testing.T) {
	tests := []struct {
		count int
		want  map[string]int
	}{
		{100, map[string]int{"high_frequency": 40, "scalping": 30, "momentum": 15, "mean_reversion": 10, "swing": 4, "position": 1}},
		{10, map[string]int{"high_frequency": 5, "scalping": 3, "momentum": 1, "mean_reversion": 1}},
		{7, map[string]int{"high_frequency": 4, "scalping": 2, "momentum": 1}},
		{0, map[string]int{}},
	}
	for _, tt := range tests {
		got := Distribution(tt.count)
		assert.Equal(t, tt.want, got, "count %d", tt.count)
	}
}

func TestGenerateAllWorkers(t *testing.T) {
	g, err := NewGenerator(42, 1, nil)
	require.NoError(t, err)

	units := g.Generate(100, AllWorkers)
	require.Len(t, units, 100)

	ids := make(map[string]struct{})
	for _, u := range units {
		ids[u.ID] = struct{}{}
		tmpl := templateOf(t, u.Kind)
		assert.Equal(t, tmpl.Timeframe, u.Timeframe)
		assert.Contains(t, tmpl.Lookbacks, u.Lookback)
		assert.GreaterOrEqual(t, len(u.Instruments), tmpl.MinInstruments)
		assert.LessOrEqual(t, len(u.Instruments), tmpl.MaxInstruments)
		assert.Equal(t, models.CadenceMinutes(u.Timeframe), u.CadenceMinutes)
		assertDistinct(t, u.Instruments)
	}
	assert.Len(t, ids, 100)
	assert.Equal(t, "high_frequency_0", units[0].ID)
}

func TestGenerateIsReproducible(t *testing.T) {
	a, err := NewGenerator(7, 4, nil)
	require.NoError(t, err)
	b, err := NewGenerator(7, 4, nil)
	require.NoError(t, err)

	assert.Equal(t, a.Generate(30, 2), b.Generate(30, 2))
}

func TestGenerateForWorker(t *testing.T) {
	g, err := NewGenerator(1, 4, nil)
	require.NoError(t, err)

	group := toSet(g.Group(1))
	hot := toSet(g.Hot())
	require.Len(t, hot, HotCount)

	units := g.Generate(50, 1)
	require.Len(t, units, 50)
	for _, u := range units {
		assert.Regexp(t, `^w1-[a-z_]+_\d+$`, u.ID)
		assertDistinct(t, u.Instruments)

		wantHot := int(float64(len(u.Instruments)) * 0.2)
		if wantHot < 1 {
			wantHot = 1
		}
		gotHot := 0
		for _, inst := range u.Instruments {
			_, inGroup := group[inst]
			_, isHot := hot[inst]
			assert.True(t, inGroup || isHot, "%s outside worker 1 pool", inst)
			if isHot {
				gotHot++
			}
		}
		assert.Equal(t, wantHot, gotHot, u.ID)
	}
}

func TestWorkerGroupsPartitionPrimary(t *testing.T) {
	g, err := NewGenerator(1, 4, nil)
	require.NoError(t, err)

	primary := len(Universe) - HotCount
	total := 0
	seen := make(map[string]int)
	for w := 0; w < 4; w++ {
		for _, inst := range g.Group(w) {
			seen[inst]++
		}
		total += len(g.Group(w))
	}
	assert.Equal(t, primary, total)
	assert.Len(t, seen, primary)
	assert.Equal(t, primary/4+primary%4, len(g.Group(3)))
}

func TestSmallUniverseFillsFromRest(t *testing.T) {
	universe := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	g, err := NewGenerator(3, 5, universe)
	require.NoError(t, err)
	require.Equal(t, []string{"J"}, g.Hot())

	for _, u := range g.Generate(20, 0) {
		tmpl := templateOf(t, u.Kind)
		assert.GreaterOrEqual(t, len(u.Instruments), min(tmpl.MinInstruments, len(universe)))
		assertDistinct(t, u.Instruments)
	}
}

func TestNewGeneratorRejectsNoWorkers(t *testing.T) {
	_, err := NewGenerator(1, 0, nil)
	assert.ErrorIs(t, err, models.ErrInvalidWorkerCount)
}

func TestDescribe(t *testing.T) {
	units := []models.WorkloadUnit{
		{ID: "a", Kind: "scalping", Timeframe: "1m", Lookback: 50, Instruments: []string{"AAPL", "MSFT"}},
		{ID: "b", Kind: "swing", Timeframe: "15m", Lookback: 500, Instruments: []string{"AAPL"}},
	}
	s := Describe(units)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, map[string]int{"scalping": 1, "swing": 1}, s.ByKind)
	assert.Equal(t, map[string]int{"1m": 1, "15m": 1}, s.ByTimeframe)
	assert.Equal(t, 2, s.UniqueInstruments)
	assert.Equal(t, 3, s.InstrumentRefs)
	assert.Equal(t, 50, s.MinLookback)
	assert.Equal(t, 500, s.MaxLookback)
	assert.Equal(t, []string{"AAPL", "MSFT"}, s.MostCommon)

	assert.Equal(t, []string{"AAPL", "MSFT"}, UniqueInstruments(units))
}

func TestDue(t *testing.T) {
	units := []models.WorkloadUnit{
		{ID: "m1", CadenceMinutes: 1},
		{ID: "m5", CadenceMinutes: 5},
		{ID: "m15", CadenceMinutes: 15},
		{ID: "zero"},
	}
	ids := func(us []models.WorkloadUnit) []string {
		var out []string
		for _, u := range us {
			out = append(out, u.ID)
		}
		return out
	}
	assert.Equal(t, []string{"m1", "m5", "m15", "zero"}, ids(Due(units, 0)))
	assert.Equal(t, []string{"m1", "zero"}, ids(Due(units, 3)))
	assert.Equal(t, []string{"m1", "m5", "zero"}, ids(Due(units, 10)))
	assert.Equal(t, []string{"m1", "m5", "m15", "zero"}, ids(Due(units, 15)))
}

type call struct {
	kind       string
	instrument string
	timeframe  string
	count      int
}

type recordingCache struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (c *recordingCache) FetchCurrent(_ context.Context, instrument, timeframe string) (models.Bar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{"current", instrument, timeframe, 1})
	return models.Bar{Instrument: instrument}, c.err
}

func (c *recordingCache) FetchHistory(_ context.Context, instrument string, count int, timeframe string) ([]models.Bar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{"history", instrument, timeframe, count})
	return nil, c.err
}

func (c *recordingCache) Metrics() *metrics.Engine { return metrics.NewEngine() }

func (c *recordingCache) Close() error { return nil }

func TestExecute(t *testing.T) {
	cache := &recordingCache{}
	e := NewExecutor(cache, time.Millisecond, 2*time.Millisecond, zap.NewNop())

	unit := models.WorkloadUnit{ID: "momentum_0", Timeframe: "5m", Lookback: 200, Instruments: []string{"AAPL", "MSFT"}}
	require.NoError(t, e.Execute(context.Background(), unit))

	assert.ElementsMatch(t, []call{
		{"current", "AAPL", "5m", 1},
		{"history", "AAPL", "5m", 200},
		{"current", "MSFT", "5m", 1},
		{"history", "MSFT", "5m", 200},
	}, cache.calls)
}

func TestExecutePropagatesErrors(t *testing.T) {
	cache := &recordingCache{err: models.ErrOriginUnavailable}
	e := NewExecutor(cache, 0, 0, nil)

	err := e.ExecuteAll(context.Background(), []models.WorkloadUnit{
		{ID: "a", Timeframe: "1m", Lookback: 20, Instruments: []string{"AAPL"}},
	})
	assert.True(t, errors.Is(err, models.ErrOriginUnavailable))
}

type panickingCache struct{ recordingCache }

func (c *panickingCache) FetchHistory(context.Context, string, int, string) ([]models.Bar, error) {
	panic("decoder bug")
}

func TestExecuteAllRecoversPanics(t *testing.T) {
	e := NewExecutor(&panickingCache{}, 0, 0, nil)

	err := e.ExecuteAll(context.Background(), []models.WorkloadUnit{
		{ID: "a", Timeframe: "1m", Lookback: 20, Instruments: []string{"AAPL", "MSFT"}},
		{ID: "b", Timeframe: "1m", Lookback: 20, Instruments: []string{"NVDA"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: decoder bug")
}

func TestExecuteRespectsCancel(t *testing.T) {
	e := NewExecutor(&recordingCache{}, time.Hour, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Execute(ctx, models.WorkloadUnit{ID: "a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeDelayRange(t *testing.T) {
	e := NewExecutor(&recordingCache{}, 10*time.Millisecond, 30*time.Millisecond, nil)
	for i := 0; i < 100; i++ {
		d := e.computeDelay()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 30*time.Millisecond)
	}
}

func TestPlanFileRoundTrip(t *testing.T) {
	g, err := NewGenerator(9, 2, nil)
	require.NoError(t, err)
	units := g.Generate(20, AllWorkers)

	path := filepath.Join(t.TempDir(), "workload.yaml")
	require.NoError(t, WriteFile(path, File{Seed: 9, Workers: 2, Stats: Describe(units), Units: units}))

	f, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), f.Seed)
	assert.Equal(t, units, f.Units)
	assert.Equal(t, 20, f.Stats.Total)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func templateOf(t *testing.T, kind string) Template {
	t.Helper()
	for _, tmpl := range Templates {
		if tmpl.Kind == kind {
			return tmpl
		}
	}
	t.Fatalf("unknown kind %s", kind)
	return Template{}
}

func toSet(xs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		out[x] = struct{}{}
	}
	return out
}

func assertDistinct(t *testing.T, xs []string) {
	t.Helper()
	assert.Len(t, toSet(xs), len(xs), "duplicates in %v", xs)
}
