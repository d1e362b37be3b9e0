// Package metrics records per-operation latencies and per-tier hit rates.
package metrics

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"goflare.io/tierbench/internal/utils"
)

// LatencyStats summarises the samples of one operation, in milliseconds.
type LatencyStats struct {
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// HitRate of one tier. Rate is a percentage.
type HitRate struct {
	Rate   float64 `json:"rate"`
	Hits   int64   `json:"hits"`
	Misses int64   `json:"misses"`
	Total  int64   `json:"total"`
}

// Summary is a point-in-time view of an Engine.
type Summary struct {
	Latencies           map[string]LatencyStats `json:"latencies"`
	CacheHitRates       map[string]HitRate      `json:"cache_hit_rates"`
	TotalRuntimeSeconds float64                 `json:"total_runtime_seconds"`
}

type tierCounter struct {
	hits   *atomic.Int64
	misses *atomic.Int64
}

// Engine collects samples for one cache instance.
type Engine struct {
	start time.Time

	mu        sync.Mutex
	latencies map[string][]float64

	tierMu sync.RWMutex
	tiers  map[string]*tierCounter
}

func NewEngine() *Engine {
	return &Engine{
		start:     time.Now(),
		latencies: make(map[string][]float64),
		tiers:     make(map[string]*tierCounter),
	}
}

// RecordLatency appends one sample for op.
func (e *Engine) RecordLatency(op string, ms float64) {
	e.mu.Lock()
	e.latencies[op] = append(e.latencies[op], ms)
	e.mu.Unlock()
}

// Time starts a stopwatch; calling the returned func records the elapsed time under op.
func (e *Engine) Time(op string) func() {
	start := time.Now()
	return func() {
		e.RecordLatency(op, utils.Millis(time.Since(start)))
	}
}

func (e *Engine) RecordCacheHit(tier string) {
	e.tier(tier).hits.Inc()
}

func (e *Engine) RecordCacheMiss(tier string) {
	e.tier(tier).misses.Inc()
}

func (e *Engine) tier(name string) *tierCounter {
	e.tierMu.RLock()
	tc, ok := e.tiers[name]
	e.tierMu.RUnlock()
	if ok {
		return tc
	}

	e.tierMu.Lock()
	defer e.tierMu.Unlock()
	if tc, ok = e.tiers[name]; ok {
		return tc
	}
	tc = &tierCounter{hits: atomic.NewInt64(0), misses: atomic.NewInt64(0)}
	e.tiers[name] = tc
	return tc
}

// Summarize computes latency stats and hit rates. It does not modify the engine.
func (e *Engine) Summarize() Summary {
	s := Summary{
		Latencies:           make(map[string]LatencyStats),
		CacheHitRates:       make(map[string]HitRate),
		TotalRuntimeSeconds: time.Since(e.start).Seconds(),
	}

	e.mu.Lock()
	for op, samples := range e.latencies {
		if len(samples) == 0 {
			continue
		}
		sorted := make([]float64, len(samples))
		copy(sorted, samples)
		s.Latencies[op] = latencyStats(sorted)
	}
	e.mu.Unlock()

	e.tierMu.RLock()
	for name, tc := range e.tiers {
		if hr, ok := newHitRate(tc.hits.Load(), tc.misses.Load()); ok {
			s.CacheHitRates[name] = hr
		}
	}
	e.tierMu.RUnlock()

	return s
}

// latencyStats sorts samples in place.
func latencyStats(samples []float64) LatencyStats {
	sort.Float64s(samples)
	n := len(samples)

	sum := 0.0
	for _, v := range samples {
		sum += v
	}

	p95 := samples[n-1]
	if n > 20 {
		p95 = samples[int(float64(n)*0.95)]
	}
	p99 := samples[n-1]
	if n > 100 {
		p99 = samples[int(float64(n)*0.99)]
	}

	return LatencyStats{
		P50:   samples[n/2],
		P95:   p95,
		P99:   p99,
		Avg:   sum / float64(n),
		Min:   samples[0],
		Max:   samples[n-1],
		Count: n,
	}
}

func newHitRate(hits, misses int64) (HitRate, bool) {
	total := hits + misses
	if total == 0 {
		return HitRate{}, false
	}
	return HitRate{
		Rate:   float64(hits) / float64(total) * 100,
		Hits:   hits,
		Misses: misses,
		Total:  total,
	}, true
}

// MergeHitRates sums hits and misses per tier across summaries and
// recomputes each rate.
func MergeHitRates(summaries ...Summary) map[string]HitRate {
	type pair struct{ hits, misses int64 }
	sums := make(map[string]pair)
	for _, s := range summaries {
		for tier, hr := range s.CacheHitRates {
			p := sums[tier]
			p.hits += hr.Hits
			p.misses += hr.Misses
			sums[tier] = p
		}
	}

	out := make(map[string]HitRate, len(sums))
	for tier, p := range sums {
		if hr, ok := newHitRate(p.hits, p.misses); ok {
			out[tier] = hr
		}
	}
	return out
}
