package tierbench

import (
	"goflare.io/tierbench/internal/assign"
	"goflare.io/tierbench/internal/config"
	"goflare.io/tierbench/internal/metrics"
	"goflare.io/tierbench/internal/models"
	"goflare.io/tierbench/internal/tiered"
	"goflare.io/tierbench/internal/worker"
	"goflare.io/tierbench/internal/workload"
)

type (
	// Config is the resolved benchmark configuration.
	Config = config.Config
	// ConfigOption mutates a Config; pass several through With.
	ConfigOption = config.Option

	Bar          = models.Bar
	WorkloadUnit = models.WorkloadUnit

	// Cache is a lookup chain built by Bench.NewCache.
	Cache = tiered.Cache

	CacheMode      = worker.CacheMode
	Plan           = worker.Plan
	Spawner        = worker.Spawner
	ProcessSpawner = worker.ProcessSpawner
	Outcome        = worker.Outcome
	Result         = worker.Result
	WorkerError    = worker.WorkerError

	Policy    = assign.Policy
	LoadStats = assign.Stats

	WorkloadFile = workload.File

	// Collector exports every worker's metrics to Prometheus.
	Collector = metrics.Collector
)

// 快取模式
const (
	TwoTier            = worker.TwoTier
	ThreeTierRedundant = worker.ThreeTierRedundant
	ThreeTierSticky    = worker.ThreeTierSticky
	ThreeTierShared    = worker.ThreeTierShared
)

// 分派策略
const (
	Random      = assign.Random
	Sticky      = assign.Sticky
	LeastLoaded = assign.LeastLoaded
	Sharded     = assign.Sharded
)

// 共享層種類
const (
	SharedStoreMap       = config.SharedStoreMap
	SharedStoreRistretto = config.SharedStoreRistretto
	SharedStoreRedis     = config.SharedStoreRedis
)

func ParseCacheMode(s string) (CacheMode, error) { return worker.ParseCacheMode(s) }

func ParsePolicy(s string) (Policy, error) { return assign.ParsePolicy(s) }

// ReadWorkload loads a file written by WriteWorkload or "tierbench generate".
func ReadWorkload(path string) (WorkloadFile, error) { return workload.ReadFile(path) }

func WriteWorkload(path string, f WorkloadFile) error { return workload.WriteFile(path, f) }
