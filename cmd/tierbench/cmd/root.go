package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"goflare.io/tierbench"
	"goflare.io/tierbench/internal/config"
)

const envPrefix = "TIERBENCH"

// Keys of the persistent flags. A spawned worker process receives them
// through TIERBENCH_* variables.
const (
	keyRedisAddr      = "redis-addr"
	keyRedisPassword  = "redis-password"
	keyRedisDB        = "redis-db"
	keyOrigin         = "origin"
	keyMock           = "mock"
	keySerialization  = "serialization"
	keySharedStore    = "shared-store"
	keyDuration       = "duration"
	keyMinuteTick     = "minute-tick"
	keyWarmupBars     = "warmup-bars"
	keyComputeMin     = "compute-min"
	keyComputeMax     = "compute-max"
	keyRingCapacity   = "ring-capacity"
	keyRetry          = "retry"
	keyRetryBackoff   = "retry-backoff"
	keyCircuitBreaker = "circuit-breaker"
	keyBloom          = "bloom"
	keyCoalesce       = "coalesce"
	keyFallback       = "fallback"
	keyLogLevel       = "log-level"
	keyLogFile        = "log-file"
)

var forwardedKeys = []string{
	keyRedisAddr, keyRedisPassword, keyRedisDB, keyOrigin, keyMock,
	keySerialization, keySharedStore, keyDuration, keyMinuteTick, keyWarmupBars,
	keyComputeMin, keyComputeMax, keyRingCapacity, keyRetry, keyRetryBackoff, keyCircuitBreaker,
	keyBloom, keyCoalesce, keyFallback, keyLogLevel,
}

// app carries the state the subcommands share.
type app struct {
	v       *viper.Viper
	cfgFile string
	logger  *zap.Logger
}

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "tierbench",
		Short: "tierbench compares 2-tier and 3-tier market data cache layouts under multi-worker load.",
		Long: `tierbench compares 2-tier and 3-tier market data cache layouts under multi-worker load.

Persistent config can be saved in a config file so it doesn't have to be specified every command.

Example structure:
redis-addr: localhost:6379
mock: true
duration: 5m
minute-tick: 1m

Every flag can also be set through a TIERBENCH_ variable, e.g. TIERBENCH_REDIS_ADDR.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	f.String(keyRedisAddr, "localhost:6379", "Redis address; empty keeps the distributed tier in memory")
	f.String(keyRedisPassword, "", "Redis password")
	f.Int(keyRedisDB, 0, "Redis database")
	f.String(keyOrigin, "", "origin API base URL")
	f.Bool(keyMock, false, "serve generated bars instead of calling the origin API")
	f.String(keySerialization, "json", "distributed cache codec: json or gob")
	f.String(keySharedStore, config.SharedStoreMap, "shared tier of 3-tier-shared: map, ristretto or redis")
	f.Duration(keyDuration, 0, "length of the timed phase (default 5m)")
	f.Duration(keyMinuteTick, 0, "wall time of one simulated minute (default 1m)")
	f.Int(keyWarmupBars, 0, "bars per instrument loaded before the timed phase (default 1000)")
	f.Duration(keyComputeMin, 0, "minimum simulated strategy compute time")
	f.Duration(keyComputeMax, 0, "maximum simulated strategy compute time")
	f.Int(keyRingCapacity, 0, "bars kept per instrument in the local tier (default 1000)")
	f.Int(keyRetry, 0, "retry origin and cache calls up to this many times")
	f.String(keyRetryBackoff, config.BackoffExponential, "retry backoff: exponential, linear or fibonacci")
	f.Bool(keyCircuitBreaker, false, "enable the origin circuit breaker")
	f.Bool(keyBloom, false, "enable the negative-lookup filter in front of Redis")
	f.Bool(keyCoalesce, false, "collapse identical concurrent origin fetches")
	f.Bool(keyFallback, false, "treat distributed cache failures as misses")
	f.String(keyLogLevel, "info", "log level: debug, info, warn or error")
	f.String(keyLogFile, "logs/tierbench.log", "rotated log file; empty logs to stderr only")
	_ = a.v.BindPFlags(f)

	cmd.AddCommand(
		runCmd(a),
		workerCmd(a),
		generateCmd(a),
	)

	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AllowEmptyEnv(true)
	a.v.AutomaticEnv()

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", a.v.ConfigFileUsed(), err)
		}
	}

	logFile := a.v.GetString(keyLogFile)
	// A worker process shares the parent's terminal, not its log file.
	if cmd.Name() == "worker" {
		logFile = ""
	}
	logger, err := newLogger(a.v.GetString(keyLogLevel), logFile)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// redisOptions returns nil when no Redis address is configured.
func (a *app) redisOptions() *redis.Options {
	addr := a.v.GetString(keyRedisAddr)
	if addr == "" {
		return nil
	}
	return &redis.Options{
		Addr:     addr,
		Password: a.v.GetString(keyRedisPassword),
		DB:       a.v.GetInt(keyRedisDB),
	}
}

// options translates the bound flags into facade options. Zero values keep
// the config defaults.
func (a *app) options() []tierbench.Option {
	v := a.v
	opts := []tierbench.Option{
		tierbench.WithLogger(a.logger),
		tierbench.WithSerialization(v.GetString(keySerialization)),
		tierbench.WithSharedStore(v.GetString(keySharedStore)),
	}
	var cfgOpts []config.Option

	if addr := v.GetString(keyRedisAddr); addr != "" {
		cfgOpts = append(cfgOpts, config.WithRedis(addr, v.GetString(keyRedisPassword), v.GetInt(keyRedisDB)))
	}
	if v.GetBool(keyMock) {
		opts = append(opts, tierbench.WithMockOrigin())
	}
	if origin := v.GetString(keyOrigin); origin != "" {
		opts = append(opts, tierbench.WithOrigin(origin))
	}
	if d, tick := v.GetDuration(keyDuration), v.GetDuration(keyMinuteTick); d > 0 || tick > 0 {
		cfgOpts = append(cfgOpts, func(c *config.Config) error {
			if d > 0 {
				c.Execution.Duration = d
			}
			if tick > 0 {
				c.Execution.MinuteTick = tick
			}
			return nil
		})
	}
	if bars := v.GetInt(keyWarmupBars); bars > 0 {
		cfgOpts = append(cfgOpts, config.WithWarmupBars(bars))
	}
	if lo, hi := v.GetDuration(keyComputeMin), v.GetDuration(keyComputeMax); lo > 0 || hi > 0 {
		cfgOpts = append(cfgOpts, config.WithComputeDelay(lo, hi))
	}
	if capacity := v.GetInt(keyRingCapacity); capacity > 0 {
		cfgOpts = append(cfgOpts, config.WithRingCapacity(capacity))
	}
	if n := v.GetInt(keyRetry); n > 0 {
		cfgOpts = append(cfgOpts,
			config.WithRetry(n, 100*time.Millisecond, time.Second),
			config.WithBackoff(v.GetString(keyRetryBackoff)))
	}
	if v.GetBool(keyCircuitBreaker) {
		cfgOpts = append(cfgOpts, config.WithCircuitBreaker(nil))
	}
	if v.GetBool(keyBloom) {
		cfgOpts = append(cfgOpts, config.WithBloomFilter(100_000, 0.01))
	}
	if v.GetBool(keyCoalesce) {
		cfgOpts = append(cfgOpts, config.WithOriginCoalescing())
	}
	if v.GetBool(keyFallback) {
		cfgOpts = append(cfgOpts, config.WithFallbackToOrigin())
	}
	return append(opts, tierbench.With(cfgOpts...))
}

// forwardEnv renders the resolved persistent settings as TIERBENCH_*
// variables for a spawned worker process.
func (a *app) forwardEnv() []string {
	env := make([]string, 0, len(forwardedKeys))
	for _, key := range forwardedKeys {
		name := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		env = append(env, fmt.Sprintf("%s=%s", name, a.v.GetString(key)))
	}
	return env
}
