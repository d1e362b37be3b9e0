package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var cacheHitsDesc = prometheus.NewDesc(
	prometheus.BuildFQName("tierbench", "cache", "hits_total"),
	"Lookups answered by a cache tier.",
	[]string{"worker", "tier"}, nil,
)

var cacheMissesDesc = prometheus.NewDesc(
	prometheus.BuildFQName("tierbench", "cache", "misses_total"),
	"Lookups a cache tier could not answer.",
	[]string{"worker", "tier"}, nil,
)

var latencyDesc = prometheus.NewDesc(
	prometheus.BuildFQName("tierbench", "operation", "latency_milliseconds"),
	"Latency percentiles per operation.",
	[]string{"worker", "operation", "quantile"}, nil,
)

var samplesDesc = prometheus.NewDesc(
	prometheus.BuildFQName("tierbench", "operation", "samples_total"),
	"Recorded latency samples per operation.",
	[]string{"worker", "operation"}, nil,
)

// Collector exposes registered engines to Prometheus. Every scrape
// summarises each engine afresh.
type Collector struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

func NewCollector() *Collector {
	return &Collector{engines: make(map[string]*Engine)}
}

// Register adds or replaces the engine of a worker.
func (c *Collector) Register(worker string, e *Engine) {
	c.mu.Lock()
	c.engines[worker] = e
	c.mu.Unlock()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheHitsDesc
	ch <- cacheMissesDesc
	ch <- latencyDesc
	ch <- samplesDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	workers := make([]string, 0, len(c.engines))
	for w := range c.engines {
		workers = append(workers, w)
	}
	sort.Strings(workers)
	engines := make([]*Engine, len(workers))
	for i, w := range workers {
		engines[i] = c.engines[w]
	}
	c.mu.RUnlock()

	for i, e := range engines {
		worker := workers[i]
		s := e.Summarize()
		for tier, hr := range s.CacheHitRates {
			ch <- prometheus.MustNewConstMetric(cacheHitsDesc, prometheus.CounterValue, float64(hr.Hits), worker, tier)
			ch <- prometheus.MustNewConstMetric(cacheMissesDesc, prometheus.CounterValue, float64(hr.Misses), worker, tier)
		}
		for op, ls := range s.Latencies {
			ch <- prometheus.MustNewConstMetric(samplesDesc, prometheus.CounterValue, float64(ls.Count), worker, op)
			ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, ls.P50, worker, op, "0.5")
			ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, ls.P95, worker, op, "0.95")
			ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, ls.P99, worker, op, "0.99")
		}
	}
}
