package worker

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/tierbench/internal/metrics"
)

// Outcome of a successful run.
type Outcome struct {
	Results   []Result `json:"worker_results"`
	Aggregate Summary  `json:"aggregate_metrics"`
}

// Coordinator runs plans concurrently and collects their results.
type Coordinator struct {
	spawner   Spawner
	logger    *zap.Logger
	completed *atomic.Int64
	failed    *atomic.Int64
}

func NewCoordinator(spawner Spawner, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		spawner:   spawner,
		logger:    logger,
		completed: atomic.NewInt64(0),
		failed:    atomic.NewInt64(0),
	}
}

// Completed is the number of workers that returned a result.
func (c *Coordinator) Completed() int64 { return c.completed.Load() }

// Failed is the number of workers that returned an error.
func (c *Coordinator) Failed() int64 { return c.failed.Load() }

// Run spawns every plan and waits for all of them. If any worker fails,
// the returned error lists every failure and no outcome is produced.
func (c *Coordinator) Run(ctx context.Context, plans []Plan) (*Outcome, error) {
	results := make(chan Result, len(plans))
	failures := make(chan *WorkerError, len(plans))

	var wg sync.WaitGroup
	for _, p := range plans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.spawner.Spawn(ctx, p)
			if err != nil {
				c.failed.Inc()
				we := NewWorkerError(p.WorkerID, err)
				c.logger.Error("Worker failed", zap.Int("worker", p.WorkerID), zap.String("error", we.Message))
				failures <- we
				return
			}
			c.completed.Inc()
			c.logger.Info("Worker completed", zap.Int("worker", p.WorkerID))
			results <- *res
		}()
	}
	wg.Wait()
	close(results)
	close(failures)

	var errs []*WorkerError
	for we := range failures {
		errs = append(errs, we)
	}
	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].WorkerID < errs[j].WorkerID })
		var merr *multierror.Error
		for _, we := range errs {
			merr = multierror.Append(merr, we)
		}
		return nil, merr.ErrorOrNil()
	}

	out := &Outcome{}
	for r := range results {
		out.Results = append(out.Results, r)
	}
	sort.Slice(out.Results, func(i, j int) bool { return out.Results[i].WorkerID < out.Results[j].WorkerID })
	out.Aggregate = Aggregate(out.Results)
	return out, nil
}

// Summary aggregates worker results.
type Summary struct {
	NumWorkers             int                        `json:"num_workers"`
	TotalMemoryMB          float64                    `json:"total_memory_mb"`
	AvgMemoryMB            float64                    `json:"avg_memory_per_worker_mb"`
	TotalExecutionSeconds  float64                    `json:"total_execution_time_seconds"`
	CacheHitRates          map[string]metrics.HitRate `json:"cache_hit_rates"`
	PerWorkerMemoryMB      []float64                  `json:"per_worker_memory"`
	MemoryRedundancyFactor float64                    `json:"memory_redundancy_factor"`
	TotalLocalCacheMB      float64                    `json:"total_local_cache_mb"`
}

// Aggregate combines results, which must be in worker order. Memory is the
// peak RSS each worker reported.
func Aggregate(results []Result) Summary {
	s := Summary{
		NumWorkers:             len(results),
		CacheHitRates:          map[string]metrics.HitRate{},
		PerWorkerMemoryMB:      make([]float64, 0, len(results)),
		MemoryRedundancyFactor: 1.0,
	}
	if len(results) == 0 {
		return s
	}

	perf := make([]metrics.Summary, 0, len(results))
	for _, r := range results {
		mem := r.System.Memory.MaxRSSMB
		s.TotalMemoryMB += mem
		s.PerWorkerMemoryMB = append(s.PerWorkerMemoryMB, mem)
		s.TotalExecutionSeconds = max(s.TotalExecutionSeconds, r.Timings.TestDurationSeconds)
		s.TotalLocalCacheMB += r.LocalCacheMB
		perf = append(perf, r.Performance)
	}
	s.AvgMemoryMB = s.TotalMemoryMB / float64(len(results))
	if s.AvgMemoryMB > 0 {
		s.MemoryRedundancyFactor = s.TotalMemoryMB / s.AvgMemoryMB
	}
	s.CacheHitRates = metrics.MergeHitRates(perf...)
	return s
}
