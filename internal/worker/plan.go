// Package worker runs planned workloads on one or more workers and
// aggregates their results.
package worker

import (
	"fmt"
	"time"

	"goflare.io/tierbench/internal/assign"
	"goflare.io/tierbench/internal/config"
	"goflare.io/tierbench/internal/metrics"
	"goflare.io/tierbench/internal/models"
	"goflare.io/tierbench/internal/sysmetrics"
	"goflare.io/tierbench/internal/workload"
)

// CacheMode selects the lookup chain each worker builds.
type CacheMode string

const (
	TwoTier            CacheMode = "2-tier"
	ThreeTierRedundant CacheMode = "3-tier-redundant"
	ThreeTierSticky    CacheMode = "3-tier-sticky"
	ThreeTierShared    CacheMode = "3-tier-shared"
)

// ParseCacheMode validates s.
func ParseCacheMode(s string) (CacheMode, error) {
	switch m := CacheMode(s); m {
	case TwoTier, ThreeTierRedundant, ThreeTierSticky, ThreeTierShared:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %s", models.ErrUnknownCacheMode, s)
	}
}

// DefaultPolicy is the assignment policy a mode is usually run with.
func (m CacheMode) DefaultPolicy() assign.Policy {
	if m == ThreeTierSticky {
		return assign.Sticky
	}
	return assign.Random
}

// Warmup is the cold-start load issued before the timed phase.
type Warmup struct {
	Bars      int    `json:"bars"`
	Timeframe string `json:"timeframe"`
}

// Execution bounds the timed phase.
type Execution struct {
	Duration   time.Duration `json:"duration"`
	MinuteTick time.Duration `json:"minute_tick"`
	ComputeMin time.Duration `json:"compute_min"`
	ComputeMax time.Duration `json:"compute_max"`
}

// Plan is everything one worker needs to run.
type Plan struct {
	WorkerID   int                   `json:"worker_id"`
	NumWorkers int                   `json:"num_workers"`
	CacheMode  CacheMode             `json:"cache_mode"`
	Units      []models.WorkloadUnit `json:"units"`
	Warmup     Warmup                `json:"warmup"`
	Execution  Execution             `json:"execution"`
}

// NewPlan fills the warmup and execution settings from cfg.
func NewPlan(workerID, numWorkers int, mode CacheMode, units []models.WorkloadUnit, cfg config.ExecutionConfig) Plan {
	return Plan{
		WorkerID:   workerID,
		NumWorkers: numWorkers,
		CacheMode:  mode,
		Units:      units,
		Warmup: Warmup{
			Bars:      cfg.WarmupBars,
			Timeframe: cfg.WarmupTimeframe,
		},
		Execution: Execution{
			Duration:   cfg.Duration,
			MinuteTick: cfg.MinuteTick,
			ComputeMin: cfg.ComputeMin,
			ComputeMax: cfg.ComputeMax,
		},
	}
}

// AssignedPlans spreads units over the assigner's workers.
func AssignedPlans(units []models.WorkloadUnit, a *assign.Assigner, mode CacheMode, cfg config.ExecutionConfig) []Plan {
	parts := a.Partition(units)
	plans := make([]Plan, len(parts))
	for w, part := range parts {
		plans[w] = NewPlan(w, len(parts), mode, part, cfg)
	}
	return plans
}

// GroupedPlans generates count units, each worker drawing from its own
// instrument group plus the hot set. Earlier workers take the remainder.
// Placements are recorded in a so its load stats describe the run.
func GroupedPlans(gen *workload.Generator, count int, a *assign.Assigner, mode CacheMode, cfg config.ExecutionConfig) ([]Plan, error) {
	n := a.Workers()
	per, rem := count/n, count%n

	plans := make([]Plan, n)
	for w := 0; w < n; w++ {
		c := per
		if w < rem {
			c++
		}
		units := gen.Generate(c, w)
		for _, u := range units {
			if err := a.Record(u.ID, w); err != nil {
				return nil, err
			}
		}
		plans[w] = NewPlan(w, n, mode, units, cfg)
	}
	return plans, nil
}

// MinuteMetric describes one simulated minute in which strategies ran.
type MinuteMetric struct {
	Minute             int     `json:"minute"`
	StrategiesExecuted int     `json:"strategies_executed"`
	ExecutionTimeMS    float64 `json:"execution_time_ms"`
}

type IterationStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type Timings struct {
	WarmupSeconds       float64        `json:"warmup_seconds"`
	TestDurationSeconds float64        `json:"test_duration_seconds"`
	FetchIterationsMS   IterationStats `json:"fetch_iterations_ms"`
	MinutesExecuted     int            `json:"minutes_executed"`
}

// Result is what a worker reports back.
type Result struct {
	WorkerID       int                `json:"worker_id"`
	CacheMode      CacheMode          `json:"cache_mode"`
	NumStrategies  int                `json:"num_strategies"`
	NumInstruments int                `json:"num_instruments"`
	Timings        Timings            `json:"timings"`
	MinuteByMinute []MinuteMetric     `json:"minute_by_minute"`
	Performance    metrics.Summary    `json:"performance"`
	System         sysmetrics.Summary `json:"system"`
	// LocalCacheMB is the estimated footprint of the worker's private
	// buffers. Workers sharing a process share its RSS, so this is the
	// per-worker figure that stays meaningful in-process.
	LocalCacheMB float64 `json:"local_cache_mb"`
}

func iterationStats(ms []float64) IterationStats {
	if len(ms) == 0 {
		return IterationStats{}
	}
	s := IterationStats{Min: ms[0], Max: ms[0]}
	sum := 0.0
	for _, v := range ms {
		sum += v
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
	}
	s.Avg = sum / float64(len(ms))
	return s
}
