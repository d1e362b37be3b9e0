package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/tierbench/pkg/codec"
)

// Config 用於分層快取基準測試的配置
type Config struct {
	RingCapacity  int
	ShardCount    uint64
	CurrentWindow int
	CurrentTTL    time.Duration
	HistoryTTL    time.Duration

	Origin              OriginConfig
	Redis               RedisConfig
	CacheBehaviorConfig CacheBehaviorConfig
	ResilienceConfig    ResilienceConfig
	Execution           ExecutionConfig
	Serialization       SerializationConfig
	Logger              *zap.Logger
}

// OriginConfig 來源 API 配置
type OriginConfig struct {
	BaseURL         string
	MaxConns        int
	MaxConnsPerHost int
	// Timeout of a single origin call; zero disables it.
	Timeout time.Duration

	// Mock serves generated bars instead of calling BaseURL.
	Mock           bool
	MockBars       int
	MockLatencyMin time.Duration
	MockLatencyMax time.Duration
}

// RedisConfig 分散式快取配置
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// SharedPrefix namespaces the process-shared tier in the same Redis.
	SharedPrefix string
}

// CacheBehaviorConfig 緩存行為配置
type CacheBehaviorConfig struct {
	EnableBloomFilter   bool
	BloomFilterSettings BloomFilterConfig
	CoalesceOrigin      bool
	FallbackToOrigin    bool
	SharedStore         string
	SharedMaxCost       int64
}

// BloomFilterConfig 用於布隆過濾器的配置
type BloomFilterConfig struct {
	ExpectedItems     uint
	FalsePositiveRate float64
}

// ResilienceConfig 用於設置重試和熔斷器
type ResilienceConfig struct {
	EnableRetry          bool
	EnableCircuitBreaker bool
	CircuitBreaker       gobreaker.Settings

	MaxRetries          int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	// Backoff 退避策略：exponential, linear 或 fibonacci
	Backoff string

	// CacheTimeout bounds a single distributed cache call; zero disables it.
	CacheTimeout time.Duration
}

// ExecutionConfig 工作進程執行配置
type ExecutionConfig struct {
	Duration        time.Duration
	MinuteTick      time.Duration
	WarmupBars      int
	WarmupTimeframe string
	ComputeMin      time.Duration
	ComputeMax      time.Duration
}

// SerializationConfig 序列化相關配置
type SerializationConfig struct {
	Type  string
	Codec codec.Codec
}

// Option 函數類型
type Option func(*Config) error

// Shared store kinds for the 3-tier-shared mode.
const (
	SharedStoreMap       = "map"
	SharedStoreRistretto = "ristretto"
	SharedStoreRedis     = "redis"
)

const (
	BackoffExponential = "exponential"
	BackoffLinear      = "linear"
	BackoffFibonacci   = "fibonacci"
)

var (
	ErrShardCountZero   = errors.New("shard count must be at least 1")
	ErrRingCapacityZero = errors.New("ring capacity must be at least 1")
)

// NewConfig 創建一個默認的 Config，允許覆蓋特定參數
func NewConfig(options ...Option) (*Config, error) {
	defaultLogger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	shardCount := uint64(runtime.NumCPU() * 4)
	if shardCount > 64 {
		shardCount = 64
	}

	cfg := &Config{
		RingCapacity:  1000,
		ShardCount:    shardCount,
		CurrentWindow: 100,
		CurrentTTL:    60 * time.Second,
		HistoryTTL:    30 * time.Second,
		Origin: OriginConfig{
			BaseURL:         "https://de.invsto.xyz/us/1",
			MaxConns:        100,
			MaxConnsPerHost: 50,
			MockBars:        1000,
			MockLatencyMin:  1 * time.Millisecond,
			MockLatencyMax:  5 * time.Millisecond,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			SharedPrefix: "shared:",
		},
		CacheBehaviorConfig: CacheBehaviorConfig{
			BloomFilterSettings: BloomFilterConfig{
				ExpectedItems:     100_000,
				FalsePositiveRate: 0.01,
			},
			SharedStore:   SharedStoreMap,
			SharedMaxCost: 1 << 30,
		},
		ResilienceConfig: ResilienceConfig{
			CircuitBreaker: gobreaker.Settings{
				Name:        "OriginCircuitBreaker",
				MaxRequests: 3,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 5
				},
			},
			MaxRetries:          3,
			InitialInterval:     100 * time.Millisecond,
			MaxInterval:         1 * time.Second,
			Multiplier:          2,
			RandomizationFactor: 0.1,
			Backoff:             BackoffExponential,
		},
		Execution: ExecutionConfig{
			Duration:        5 * time.Minute,
			MinuteTick:      time.Minute,
			WarmupBars:      1000,
			WarmupTimeframe: "1m",
			ComputeMin:      10 * time.Millisecond,
			ComputeMax:      30 * time.Millisecond,
		},
		Serialization: SerializationConfig{
			Type:  codec.JSONType,
			Codec: codec.JSON{},
		},
		Logger: defaultLogger,
	}

	// 應用所有選項
	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	// 最終檢查
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the invariants the caches rely on.
func (c *Config) Validate() error {
	if c.ShardCount == 0 {
		return ErrShardCountZero
	}
	if c.RingCapacity < 1 {
		return ErrRingCapacityZero
	}
	if c.CurrentWindow < 1 {
		return errors.New("current window must be at least 1 bar")
	}
	if c.CurrentTTL <= 0 || c.HistoryTTL <= 0 {
		return errors.New("cache TTLs must be positive")
	}
	if c.Execution.MinuteTick <= 0 {
		return errors.New("minute tick must be positive")
	}
	if c.Execution.ComputeMax < c.Execution.ComputeMin {
		return errors.New("compute max must not be below compute min")
	}
	if c.Origin.MockLatencyMax < c.Origin.MockLatencyMin {
		return errors.New("mock latency max must not be below mock latency min")
	}
	switch c.CacheBehaviorConfig.SharedStore {
	case SharedStoreMap, SharedStoreRistretto, SharedStoreRedis:
	default:
		return fmt.Errorf("unsupported shared store: %s", c.CacheBehaviorConfig.SharedStore)
	}
	switch c.ResilienceConfig.Backoff {
	case BackoffExponential, BackoffLinear, BackoffFibonacci:
	default:
		return fmt.Errorf("unsupported backoff strategy: %s", c.ResilienceConfig.Backoff)
	}
	return nil
}

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithShardCount 設置分片數量
func WithShardCount(count uint64) Option {
	return func(c *Config) error {
		if count == 0 {
			return ErrShardCountZero
		}
		c.ShardCount = count
		return nil
	}
}

// WithRingCapacity 設置每個商品的環形緩衝區容量
func WithRingCapacity(capacity int) Option {
	return func(c *Config) error {
		if capacity < 1 {
			return ErrRingCapacityZero
		}
		c.RingCapacity = capacity
		return nil
	}
}

// WithTTLs 設置 current / history 的快取存活時間
func WithTTLs(current, history time.Duration) Option {
	return func(c *Config) error {
		c.CurrentTTL = current
		c.HistoryTTL = history
		return nil
	}
}

// WithSerialization 設置序列化方式
func WithSerialization(name string) Option {
	return func(c *Config) error {
		cd, err := codec.ByName(name)
		if err != nil {
			return err
		}
		c.Serialization.Type = cd.Name()
		c.Serialization.Codec = cd
		return nil
	}
}

// WithOrigin 設置來源 API 位址
func WithOrigin(baseURL string) Option {
	return func(c *Config) error {
		if baseURL == "" {
			return errors.New("origin base url cannot be empty")
		}
		c.Origin.BaseURL = baseURL
		return nil
	}
}

// WithMockOrigin 使用模擬來源取代 HTTP API
func WithMockOrigin() Option {
	return func(c *Config) error {
		c.Origin.Mock = true
		return nil
	}
}

// WithMockLatency 設置模擬來源的延遲範圍
func WithMockLatency(minLatency, maxLatency time.Duration) Option {
	return func(c *Config) error {
		c.Origin.MockLatencyMin = minLatency
		c.Origin.MockLatencyMax = maxLatency
		return nil
	}
}

// WithRedis 設置 Redis 連線
func WithRedis(addr, password string, db int) Option {
	return func(c *Config) error {
		c.Redis.Addr = addr
		c.Redis.Password = password
		c.Redis.DB = db
		return nil
	}
}

// WithTimeouts enables per-call timeouts on origin and cache calls.
func WithTimeouts(origin, cache time.Duration) Option {
	return func(c *Config) error {
		if origin < 0 || cache < 0 {
			return errors.New("timeouts cannot be negative")
		}
		c.Origin.Timeout = origin
		c.ResilienceConfig.CacheTimeout = cache
		return nil
	}
}

// WithRetry enables retries on origin and cache calls, backing off
// exponentially unless WithBackoff picks another strategy.
func WithRetry(maxRetries int, initial, maxInterval time.Duration) Option {
	return func(c *Config) error {
		if maxRetries < 1 {
			return errors.New("max retries must be at least 1")
		}
		c.ResilienceConfig.EnableRetry = true
		c.ResilienceConfig.MaxRetries = maxRetries
		c.ResilienceConfig.InitialInterval = initial
		c.ResilienceConfig.MaxInterval = maxInterval
		return nil
	}
}

// WithBackoff 設置重試的退避策略
func WithBackoff(strategy string) Option {
	return func(c *Config) error {
		switch strategy {
		case BackoffExponential, BackoffLinear, BackoffFibonacci:
			c.ResilienceConfig.Backoff = strategy
			return nil
		default:
			return fmt.Errorf("unsupported backoff strategy: %s", strategy)
		}
	}
}

// WithCircuitBreaker enables the origin circuit breaker.
func WithCircuitBreaker(settings *gobreaker.Settings) Option {
	return func(c *Config) error {
		c.ResilienceConfig.EnableCircuitBreaker = true
		if settings != nil {
			c.ResilienceConfig.CircuitBreaker = *settings
		}
		return nil
	}
}

// WithBloomFilter enables the negative-lookup filter in front of Redis.
func WithBloomFilter(expectedItems uint, falsePositiveRate float64) Option {
	return func(c *Config) error {
		if expectedItems == 0 || falsePositiveRate <= 0 || falsePositiveRate >= 1 {
			return errors.New("invalid bloom filter settings")
		}
		c.CacheBehaviorConfig.EnableBloomFilter = true
		c.CacheBehaviorConfig.BloomFilterSettings = BloomFilterConfig{
			ExpectedItems:     expectedItems,
			FalsePositiveRate: falsePositiveRate,
		}
		return nil
	}
}

// WithOriginCoalescing collapses identical concurrent origin fetches.
func WithOriginCoalescing() Option {
	return func(c *Config) error {
		c.CacheBehaviorConfig.CoalesceOrigin = true
		return nil
	}
}

// WithFallbackToOrigin treats distributed cache failures as misses.
func WithFallbackToOrigin() Option {
	return func(c *Config) error {
		c.CacheBehaviorConfig.FallbackToOrigin = true
		return nil
	}
}

// WithSharedStore selects the backend of the 3-tier-shared tier.
func WithSharedStore(kind string) Option {
	return func(c *Config) error {
		c.CacheBehaviorConfig.SharedStore = kind
		return nil
	}
}

// WithExecution sets the timed phase length and the length of one simulated minute.
func WithExecution(duration, minuteTick time.Duration) Option {
	return func(c *Config) error {
		if duration < 0 {
			return errors.New("duration cannot be negative")
		}
		c.Execution.Duration = duration
		c.Execution.MinuteTick = minuteTick
		return nil
	}
}

// WithComputeDelay sets the simulated strategy computation range.
func WithComputeDelay(minDelay, maxDelay time.Duration) Option {
	return func(c *Config) error {
		c.Execution.ComputeMin = minDelay
		c.Execution.ComputeMax = maxDelay
		return nil
	}
}

// WithWarmupBars sets how many bars per instrument are loaded before the timed phase.
func WithWarmupBars(bars int) Option {
	return func(c *Config) error {
		if bars < 0 {
			return errors.New("warmup bars cannot be negative")
		}
		c.Execution.WarmupBars = bars
		return nil
	}
}
