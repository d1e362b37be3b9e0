package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goflare.io/tierbench"
	"goflare.io/tierbench/internal/assign"
	"goflare.io/tierbench/internal/config"
	"goflare.io/tierbench/internal/metrics"
	"goflare.io/tierbench/internal/report"
	"goflare.io/tierbench/internal/worker"
	"goflare.io/tierbench/internal/workload"
)

const (
	spawnGoroutine = "goroutine"
	spawnProcess   = "process"
)

type runFlags struct {
	workers     int
	cacheMode   string
	assignment  string
	strategies  int
	seed        uint64
	planFile    string
	spawn       string
	output      string
	db          string
	metricsAddr string
}

// Generate a workload, run it on every worker and write the report.
func runCmd(a *app) *cobra.Command {
	var rf runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a multi-worker benchmark and write its report.",
		Long: `Run a multi-worker benchmark and write its report.

Without --plan the workload is generated per worker from its instrument
group, the remainder going to the first workers. With --plan the units of
a file written by "tierbench generate" are placed by the assignment policy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, cmd, rf)
		},
	}

	f := cmd.Flags()
	f.IntVar(&rf.workers, "workers", 4, "number of workers")
	f.StringVar(&rf.cacheMode, "cache-mode", string(worker.ThreeTierSticky), "2-tier, 3-tier-redundant, 3-tier-sticky or 3-tier-shared")
	f.StringVar(&rf.assignment, "assignment", "", "random, sticky, least_loaded or sharded (default depends on the cache mode)")
	f.IntVar(&rf.strategies, "strategies", 500, "number of strategies to generate")
	f.Uint64Var(&rf.seed, "seed", 42, "workload generator seed")
	f.StringVar(&rf.planFile, "plan", "", "workload file written by the generate command")
	f.StringVar(&rf.spawn, "spawn", spawnGoroutine, "worker isolation: goroutine or process")
	f.StringVar(&rf.output, "output", "multiworker_results", "directory of the JSON report")
	f.StringVar(&rf.db, "db", "multiworker_results/tierbench.db", "sqlite database of run summaries; empty disables it")
	f.StringVar(&rf.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run, e.g. :9090")
	return cmd
}

func (a *app) run(ctx context.Context, cmd *cobra.Command, rf runFlags) error {
	mode, err := worker.ParseCacheMode(rf.cacheMode)
	if err != nil {
		return err
	}
	policy := mode.DefaultPolicy()
	if rf.assignment != "" {
		if policy, err = assign.ParsePolicy(rf.assignment); err != nil {
			return err
		}
	}
	assigner, err := assign.New(policy, rf.workers)
	if err != nil {
		return err
	}

	var spawner worker.Spawner
	switch rf.spawn {
	case spawnGoroutine:
	case spawnProcess:
		// 子進程間只有 Redis 能共用
		if a.redisOptions() == nil {
			return errors.New("process workers need Redis for the distributed tier")
		}
		if mode == worker.ThreeTierShared {
			a.v.Set(keySharedStore, config.SharedStoreRedis)
		}
		spawner = worker.ProcessSpawner{Env: a.forwardEnv(), Logger: a.logger}
	default:
		return fmt.Errorf("unknown spawn mode %q", rf.spawn)
	}

	bench, err := tierbench.New(ctx, a.redisOptions(), a.options()...)
	if err != nil {
		return err
	}
	defer func() {
		if err := bench.Close(); err != nil {
			a.logger.Warn("Failed to close bench", zap.Error(err))
		}
	}()
	exec := bench.Config().Execution

	seed := rf.seed
	var plans []worker.Plan
	if rf.planFile != "" {
		file, err := workload.ReadFile(rf.planFile)
		if err != nil {
			return err
		}
		seed = file.Seed
		plans = worker.AssignedPlans(file.Units, assigner, mode, exec)
	} else {
		gen, err := workload.NewGenerator(seed, rf.workers, nil)
		if err != nil {
			return err
		}
		if plans, err = worker.GroupedPlans(gen, rf.strategies, assigner, mode, exec); err != nil {
			return err
		}
	}
	load := assigner.LoadBalanceStats()

	a.logger.Info("Starting benchmark",
		zap.Int("workers", rf.workers),
		zap.String("mode", string(mode)),
		zap.String("assignment", string(policy)),
		zap.Ints("strategies_per_worker", load.PerWorker),
		zap.Float64("imbalance", load.ImbalanceFactor),
		zap.String("spawn", rf.spawn),
		zap.Duration("duration", exec.Duration))

	if rf.metricsAddr != "" {
		shutdown := serveMetrics(rf.metricsAddr, bench.Collector(), a.logger)
		defer shutdown()
	}

	start := time.Now()
	out, err := bench.Run(ctx, plans, spawner)
	if err != nil {
		printFailures(cmd.ErrOrStderr(), err)
		return err
	}

	r := report.New(plans, assigner.Policy(), seed, load, out, time.Since(start))
	path, err := report.WriteJSON(rf.output, r)
	if err != nil {
		return err
	}
	if rf.db != "" {
		if err := saveRun(rf.db, r); err != nil {
			return err
		}
	}

	printSummary(cmd.OutOrStdout(), r, path)
	return nil
}

func saveRun(path string, r *report.Report) error {
	store, err := report.OpenStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(r)
}

// serveMetrics exposes the collector until the returned func is called.
func serveMetrics(addr string, c *metrics.Collector, logger *zap.Logger) func() {
	registry := prometheus.NewRegistry()
	registry.MustRegister(c, collectors.NewGoCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// printFailures writes the message and stack of every failed worker.
func printFailures(w io.Writer, err error) {
	errs := []error{err}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		errs = merr.Errors
	}
	fmt.Fprintf(w, "Errors occurred in %d workers:\n", len(errs))
	for _, e := range errs {
		var we *worker.WorkerError
		if errors.As(e, &we) {
			fmt.Fprintf(w, "  Worker %d: %s\n%s\n", we.WorkerID, we.Message, we.Stack)
			continue
		}
		fmt.Fprintf(w, "  %+v\n", e)
	}
}

func printSummary(w io.Writer, r *report.Report, path string) {
	agg := r.AggregateMetrics
	fmt.Fprintf(w, "%s\n", r.TestName)
	fmt.Fprintf(w, "  Workers:              %d\n", agg.NumWorkers)
	fmt.Fprintf(w, "  Strategies/worker:    %v\n", r.Configuration.StrategiesPerWorker)
	fmt.Fprintf(w, "  Instruments/worker:   %v\n", r.Configuration.InstrumentsPerWorker)
	fmt.Fprintf(w, "  Total memory:         %.1f MB\n", agg.TotalMemoryMB)
	fmt.Fprintf(w, "  Avg memory/worker:    %.1f MB\n", agg.AvgMemoryMB)
	fmt.Fprintf(w, "  Local cache total:    %.1f MB\n", agg.TotalLocalCacheMB)
	fmt.Fprintf(w, "  Redundancy factor:    %.2fx\n", agg.MemoryRedundancyFactor)
	fmt.Fprintf(w, "  Execution time:       %.1f s\n", agg.TotalExecutionSeconds)

	tiers := make([]string, 0, len(agg.CacheHitRates))
	for tier := range agg.CacheHitRates {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		hr := agg.CacheHitRates[tier]
		fmt.Fprintf(w, "  Hit rate %-18s %.1f%% (%d/%d)\n", tier+":", hr.Rate, hr.Hits, hr.Total)
	}
	fmt.Fprintf(w, "Results saved to %s\n", path)
}
