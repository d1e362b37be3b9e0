// Package assign maps workload units onto workers.
package assign

import (
	"fmt"
	"strings"
	"sync"

	"goflare.io/tierbench/internal/models"
	"goflare.io/tierbench/internal/utils"
)

// Policy selects how units are spread over workers.
type Policy string

const (
	Random      Policy = "random"
	Sticky      Policy = "sticky"
	LeastLoaded Policy = "least_loaded"
	Sharded     Policy = "sharded"
)

// ParsePolicy accepts the policy names plus a few spellings used on the command line.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "random":
		return Random, nil
	case "sticky":
		return Sticky, nil
	case "least_loaded", "leastloaded":
		return LeastLoaded, nil
	case "sharded", "instrument_sharded":
		return Sharded, nil
	default:
		return "", fmt.Errorf("unknown assignment policy %q", s)
	}
}

// Stats describes how evenly load is spread.
type Stats struct {
	Total           int     `json:"total"`
	PerWorker       []int   `json:"per_worker"`
	Min             int     `json:"min"`
	Max             int     `json:"max"`
	Avg             float64 `json:"avg"`
	ImbalanceFactor float64 `json:"imbalance_factor"`
}

// Assigner keeps the unit → worker table and per-worker load.
type Assigner struct {
	policy Policy
	n      int

	mu    sync.Mutex
	table map[string]int
	load  []int
}

// New creates an Assigner over n workers.
func New(policy Policy, n int) (*Assigner, error) {
	if n < 1 {
		return nil, models.ErrInvalidWorkerCount
	}
	switch policy {
	case Random, Sticky, LeastLoaded, Sharded:
	default:
		return nil, fmt.Errorf("unknown assignment policy %q", policy)
	}
	return &Assigner{
		policy: policy,
		n:      n,
		table:  make(map[string]int),
		load:   make([]int, n),
	}, nil
}

func (a *Assigner) Policy() Policy { return a.policy }

func (a *Assigner) Workers() int { return a.n }

// Assign returns the worker of unit id. Every policy except Random
// answers repeat calls from the table without changing load; Random
// recomputes and counts every call.
func (a *Assigner) Assign(id string, instruments []string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.policy != Random {
		if w, ok := a.table[id]; ok {
			return w
		}
	}

	var w int
	switch a.policy {
	case LeastLoaded:
		w = a.leastLoaded()
	case Sharded:
		key := id
		if len(instruments) > 0 {
			key = instruments[0]
		}
		w = int(utils.ShardIndex(uint64(a.n), key))
	default:
		w = int(utils.ShardIndex(uint64(a.n), id))
	}

	a.table[id] = w
	a.load[w]++
	return w
}

// Record places id on worker without consulting the policy. Workloads
// generated per worker register their placement this way.
func (a *Assigner) Record(id string, worker int) error {
	if worker < 0 || worker >= a.n {
		return fmt.Errorf("worker %d out of range [0,%d)", worker, a.n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.table[id]; ok {
		a.load[prev]--
	}
	a.table[id] = worker
	a.load[worker]++
	return nil
}

// leastLoaded picks the lowest-index worker with minimal load.
func (a *Assigner) leastLoaded() int {
	best := 0
	for i := 1; i < a.n; i++ {
		if a.load[i] < a.load[best] {
			best = i
		}
	}
	return best
}

// Lookup returns the recorded worker of id, or -1.
func (a *Assigner) Lookup(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.table[id]; ok {
		return w
	}
	return -1
}

// Load returns the number of assignments counted against worker.
func (a *Assigner) Load(worker int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if worker < 0 || worker >= a.n {
		return 0
	}
	return a.load[worker]
}

func (a *Assigner) LoadBalanceStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		PerWorker: make([]int, a.n),
		Min:       a.load[0],
		Max:       a.load[0],
	}
	copy(s.PerWorker, a.load)
	for _, l := range a.load {
		s.Total += l
		if l < s.Min {
			s.Min = l
		}
		if l > s.Max {
			s.Max = l
		}
	}
	s.Avg = float64(s.Total) / float64(a.n)
	s.ImbalanceFactor = 1.0
	if s.Avg > 0 {
		s.ImbalanceFactor = float64(s.Max) / s.Avg
	}
	return s
}

// Partition assigns every unit and groups them by worker, keeping input order.
func (a *Assigner) Partition(units []models.WorkloadUnit) [][]models.WorkloadUnit {
	out := make([][]models.WorkloadUnit, a.n)
	for _, u := range units {
		w := a.Assign(u.ID, u.Instruments)
		out[w] = append(out[w], u)
	}
	return out
}
