// Package report assembles run reports and persists them.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"goflare.io/tierbench/internal/assign"
	"goflare.io/tierbench/internal/models"
	"goflare.io/tierbench/internal/worker"
	"goflare.io/tierbench/internal/workload"
)

// Configuration describes how a run was set up.
type Configuration struct {
	NumWorkers           int    `json:"num_workers"`
	CacheMode            string `json:"cache_mode"`
	AssignmentMode       string `json:"assignment_mode"`
	NumStrategies        int    `json:"num_strategies"`
	Seed                 uint64 `json:"seed"`
	StrategiesPerWorker  []int  `json:"strategies_per_worker"`
	InstrumentsPerWorker []int  `json:"instruments_per_worker"`
}

// Report is the complete record of one run.
type Report struct {
	RunID                 string          `json:"run_id"`
	TestName              string          `json:"test_name"`
	Timestamp             time.Time       `json:"timestamp"`
	Configuration         Configuration   `json:"configuration"`
	StrategyStats         workload.Stats  `json:"strategy_stats"`
	LoadBalance           assign.Stats    `json:"load_balance"`
	AggregateMetrics      worker.Summary  `json:"aggregate_metrics"`
	WorkerResults         []worker.Result `json:"worker_results"`
	TotalWallClockSeconds float64         `json:"total_wall_clock_seconds"`
}

// New builds a report from plans and the coordinator's outcome.
func New(plans []worker.Plan, policy assign.Policy, seed uint64, load assign.Stats, out *worker.Outcome, wall time.Duration) *Report {
	cfg := Configuration{
		NumWorkers:           len(plans),
		AssignmentMode:       string(policy),
		Seed:                 seed,
		StrategiesPerWorker:  make([]int, 0, len(plans)),
		InstrumentsPerWorker: make([]int, 0, len(plans)),
	}

	var units []models.WorkloadUnit
	for _, p := range plans {
		cfg.CacheMode = string(p.CacheMode)
		cfg.StrategiesPerWorker = append(cfg.StrategiesPerWorker, len(p.Units))
		cfg.InstrumentsPerWorker = append(cfg.InstrumentsPerWorker, len(workload.UniqueInstruments(p.Units)))
		units = append(units, p.Units...)
	}
	cfg.NumStrategies = len(units)

	r := &Report{
		RunID:                 uuid.NewString(),
		TestName:              fmt.Sprintf("multiworker_%dw_%s_%s", cfg.NumWorkers, cfg.CacheMode, cfg.AssignmentMode),
		Timestamp:             time.Now().UTC(),
		Configuration:         cfg,
		StrategyStats:         workload.Describe(units),
		LoadBalance:           load,
		TotalWallClockSeconds: wall.Seconds(),
	}
	if out != nil {
		r.AggregateMetrics = out.Aggregate
		r.WorkerResults = out.Results
	}
	return r
}

// Filename is the default report file name.
func (r *Report) Filename() string {
	return r.TestName + ".json"
}

// WriteJSON writes r, indented, to dir/r.Filename() and returns the path.
func WriteJSON(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	path := filepath.Join(dir, r.Filename())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
