package tierbench

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/tierbench/internal/assign"
	"goflare.io/tierbench/internal/cache/distributed"
	"goflare.io/tierbench/internal/config"
	"goflare.io/tierbench/internal/metrics"
	"goflare.io/tierbench/internal/origin"
	"goflare.io/tierbench/internal/worker"
	"goflare.io/tierbench/internal/workload"
)

// Option 定義初始化 Bench 的選項
type Option func(*config.Config) error

// With 套用任意 ConfigOption
func With(opts ...ConfigOption) Option {
	return func(cfg *config.Config) error {
		for _, opt := range opts {
			if err := opt(cfg); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithLogger 設置自定義的日誌記錄器
func WithLogger(logger *zap.Logger) Option {
	return Option(config.WithLogger(logger))
}

// WithSerialization 設置序列化方式
func WithSerialization(name string) Option {
	return Option(config.WithSerialization(name))
}

// WithMockOrigin 使用模擬來源
func WithMockOrigin() Option {
	return Option(config.WithMockOrigin())
}

// WithOrigin 設置來源 API 位址
func WithOrigin(baseURL string) Option {
	return Option(config.WithOrigin(baseURL))
}

// WithSharedStore 設置 3-tier-shared 模式的共享層
func WithSharedStore(kind string) Option {
	return Option(config.WithSharedStore(kind))
}

// WithExecution 設置測試時長與模擬分鐘長度
func WithExecution(duration, minuteTick time.Duration) Option {
	return Option(config.WithExecution(duration, minuteTick))
}

// WithWarmupBars 設置暖機時每個標的載入的 K 線數
func WithWarmupBars(bars int) Option {
	return Option(config.WithWarmupBars(bars))
}

// WithComputeDelay 設置模擬策略計算時間範圍
func WithComputeDelay(minDelay, maxDelay time.Duration) Option {
	return Option(config.WithComputeDelay(minDelay, maxDelay))
}

// WithMockLatency 設置模擬來源的延遲範圍
func WithMockLatency(minLatency, maxLatency time.Duration) Option {
	return Option(config.WithMockLatency(minLatency, maxLatency))
}

func WithRingCapacity(capacity int) Option {
	return Option(config.WithRingCapacity(capacity))
}

func WithShardCount(count uint64) Option {
	return Option(config.WithShardCount(count))
}

// WithTTLs 設置分散式層 current 與 history 的過期時間
func WithTTLs(current, history time.Duration) Option {
	return Option(config.WithTTLs(current, history))
}

func WithTimeouts(originTimeout, cacheTimeout time.Duration) Option {
	return Option(config.WithTimeouts(originTimeout, cacheTimeout))
}

// WithRetry 啟用重試；strategy 為 exponential, linear 或 fibonacci
func WithRetry(maxRetries int, initial, maxInterval time.Duration, strategy string) Option {
	return With(config.WithRetry(maxRetries, initial, maxInterval), config.WithBackoff(strategy))
}

func WithCircuitBreaker(settings *gobreaker.Settings) Option {
	return Option(config.WithCircuitBreaker(settings))
}

func WithBloomFilter(expectedItems uint, falsePositiveRate float64) Option {
	return Option(config.WithBloomFilter(expectedItems, falsePositiveRate))
}

func WithOriginCoalescing() Option {
	return Option(config.WithOriginCoalescing())
}

func WithFallbackToOrigin() Option {
	return Option(config.WithFallbackToOrigin())
}

// Bench owns the connections a benchmark run shares: the origin connector,
// the Redis client and the stores built on them.
type Bench struct {
	cfg       *config.Config
	connector *origin.Connector
	client    *redis.Client
	collector *metrics.Collector
	logger    *zap.Logger

	mu  sync.Mutex
	env worker.Env
}

// New 初始化 Bench。redisOptions 為 nil 時分散式層改用行程內的記憶體儲存
func New(ctx context.Context, redisOptions *redis.Options, opts ...Option) (*Bench, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	b := &Bench{
		cfg:       cfg,
		collector: metrics.NewCollector(),
		logger:    cfg.Logger,
	}

	var fetcher origin.Fetcher
	if cfg.Origin.Mock {
		fetcher = origin.NewMockFetcher(cfg.Origin)
	} else {
		b.connector = origin.NewConnector(cfg.Origin)
		fetcher = origin.NewHTTPFetcher(cfg.Origin.BaseURL, b.connector, cfg.Logger)
	}
	if fetcher, err = origin.Wrap(fetcher, cfg); err != nil {
		return nil, fmt.Errorf("failed to wrap origin: %w", err)
	}

	var cmd redis.Cmdable
	if redisOptions != nil {
		b.client = redis.NewClient(redisOptions)
		if err := b.client.Ping(ctx).Err(); err != nil {
			_ = b.client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		cmd = b.client
	}

	store, err := distributed.Open(ctx, cmd, cfg)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to open distributed tier: %w", err)
	}

	b.env = worker.Env{
		Config:      cfg,
		Fetcher:     fetcher,
		Distributed: store,
		Collector:   b.collector,
	}
	return b, nil
}

func (b *Bench) Config() *Config { return b.cfg }

// Collector exposes the metrics of every worker started by Run.
func (b *Bench) Collector() *Collector { return b.collector }

// NewPlan builds the plan of one worker with the configured warmup and
// execution settings.
func (b *Bench) NewPlan(workerID, numWorkers int, mode CacheMode, units []WorkloadUnit) Plan {
	return worker.NewPlan(workerID, numWorkers, mode, units, b.cfg.Execution)
}

// GeneratePlans generates strategies units from seed, each worker drawing
// from its own instrument group. An empty policy picks the mode's default.
func (b *Bench) GeneratePlans(seed uint64, workers, strategies int, mode CacheMode, policy Policy) ([]Plan, LoadStats, error) {
	a, err := b.assigner(workers, mode, policy)
	if err != nil {
		return nil, LoadStats{}, err
	}
	gen, err := workload.NewGenerator(seed, workers, nil)
	if err != nil {
		return nil, LoadStats{}, err
	}
	plans, err := worker.GroupedPlans(gen, strategies, a, mode, b.cfg.Execution)
	if err != nil {
		return nil, LoadStats{}, err
	}
	return plans, a.LoadBalanceStats(), nil
}

// AssignPlans places units on workers by policy. An empty policy picks the
// mode's default.
func (b *Bench) AssignPlans(units []WorkloadUnit, workers int, mode CacheMode, policy Policy) ([]Plan, LoadStats, error) {
	a, err := b.assigner(workers, mode, policy)
	if err != nil {
		return nil, LoadStats{}, err
	}
	plans := worker.AssignedPlans(units, a, mode, b.cfg.Execution)
	return plans, a.LoadBalanceStats(), nil
}

func (b *Bench) assigner(workers int, mode CacheMode, policy Policy) (*assign.Assigner, error) {
	if policy == "" {
		policy = mode.DefaultPolicy()
	}
	return assign.New(policy, workers)
}

// Env returns the shared worker environment, opening the shared tier
// when mode needs it.
func (b *Bench) Env(ctx context.Context, mode CacheMode) (worker.Env, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if mode == worker.ThreeTierShared && b.env.Shared == nil {
		var cmd redis.Cmdable
		if b.client != nil {
			cmd = b.client
		}
		shared, err := distributed.OpenShared(ctx, b.cfg.CacheBehaviorConfig.SharedStore, cmd, b.cfg)
		if err != nil {
			return worker.Env{}, fmt.Errorf("failed to open shared tier: %w", err)
		}
		b.env.Shared = shared
	}
	return b.env, nil
}

// NewCache builds a standalone lookup chain of mode.
func (b *Bench) NewCache(ctx context.Context, mode CacheMode) (Cache, error) {
	env, err := b.Env(ctx, mode)
	if err != nil {
		return nil, err
	}
	return worker.NewCache(mode, env)
}

// Run executes plans. A nil spawner runs every worker in this process.
func (b *Bench) Run(ctx context.Context, plans []Plan, spawner Spawner) (*Outcome, error) {
	if spawner == nil {
		var mode CacheMode
		if len(plans) > 0 {
			mode = plans[0].CacheMode
		}
		env, err := b.Env(ctx, mode)
		if err != nil {
			return nil, err
		}
		spawner = worker.GoroutineSpawner{Env: env}
	}
	return worker.NewCoordinator(spawner, b.logger).Run(ctx, plans)
}

// Close 關閉所有連線，釋放資源
func (b *Bench) Close() error {
	var merr *multierror.Error
	b.mu.Lock()
	env := b.env
	b.mu.Unlock()

	if env.Shared != nil {
		if err := distributed.Close(env.Shared); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if env.Distributed != nil {
		if err := distributed.Close(env.Distributed); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if b.client != nil {
		if err := b.client.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if b.connector != nil {
		if err := b.connector.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
