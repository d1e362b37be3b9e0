// Package workload generates simulated strategies and runs them against a
// tiered cache.
package workload

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"goflare.io/tierbench/internal/models"
)

// Template describes one kind of strategy.
type Template struct {
	Kind           string
	Timeframe      string
	Lookbacks      []int
	MinInstruments int
	MaxInstruments int
	Weight         float64
}

// Templates in generation order. The first one absorbs rounding leftovers.
var Templates = []Template{
	{Kind: "high_frequency", Timeframe: "1m", Lookbacks: []int{20, 50, 100}, MinInstruments: 3, MaxInstruments: 5, Weight: 0.40},
	{Kind: "scalping", Timeframe: "1m", Lookbacks: []int{50, 100}, MinInstruments: 5, MaxInstruments: 8, Weight: 0.30},
	{Kind: "momentum", Timeframe: "5m", Lookbacks: []int{100, 200}, MinInstruments: 10, MaxInstruments: 15, Weight: 0.15},
	{Kind: "mean_reversion", Timeframe: "5m", Lookbacks: []int{50, 100, 200}, MinInstruments: 8, MaxInstruments: 12, Weight: 0.10},
	{Kind: "swing", Timeframe: "15m", Lookbacks: []int{100, 200, 500}, MinInstruments: 15, MaxInstruments: 25, Weight: 0.04},
	{Kind: "position", Timeframe: "60m", Lookbacks: []int{100, 200}, MinInstruments: 20, MaxInstruments: 30, Weight: 0.01},
}

// hotShare is the fraction of a worker-scoped strategy's instruments drawn
// from the hot set.
const hotShare = 0.20

// AllWorkers asks Generate to draw from the whole universe.
const AllWorkers = -1

// Generator produces reproducible strategy sets for a seed.
type Generator struct {
	rng      *rand.Rand
	universe []string
	hot      []string
	groups   [][]string
}

// NewGenerator splits universe into a hot tail shared by all workers and one
// primary group per worker. A nil universe uses Universe.
func NewGenerator(seed uint64, numWorkers int, universe []string) (*Generator, error) {
	if numWorkers < 1 {
		return nil, models.ErrInvalidWorkerCount
	}
	if universe == nil {
		universe = Universe
	}

	hotCount := HotCount
	if hotCount >= len(universe) {
		hotCount = len(universe) / 10
	}
	primary := universe[:len(universe)-hotCount]
	hot := universe[len(universe)-hotCount:]

	g := &Generator{
		rng:      rand.New(rand.NewPCG(seed, seed^0x5bd1e995)),
		universe: universe,
		hot:      hot,
		groups:   make([][]string, numWorkers),
	}

	per := len(primary) / numWorkers
	for w := 0; w < numWorkers; w++ {
		g.groups[w] = append([]string(nil), primary[w*per:(w+1)*per]...)
	}
	if rest := primary[numWorkers*per:]; len(rest) > 0 {
		g.groups[numWorkers-1] = append(g.groups[numWorkers-1], rest...)
	}
	return g, nil
}

// Hot returns the instruments shared by every worker group.
func (g *Generator) Hot() []string {
	return append([]string(nil), g.hot...)
}

// Group returns the primary instruments of a worker.
func (g *Generator) Group(worker int) []string {
	return append([]string(nil), g.groups[worker%len(g.groups)]...)
}

// Distribution splits count over the templates by weight; the remainder
// goes to the first template.
func Distribution(count int) map[string]int {
	out := make(map[string]int)
	assigned := 0
	for _, t := range Templates {
		n := int(float64(count) * t.Weight)
		if n > 0 {
			out[t.Kind] = n
			assigned += n
		}
	}
	if assigned < count {
		out[Templates[0].Kind] += count - assigned
	}
	return out
}

// Generate creates count strategies. With a worker id, instruments come
// from that worker's group plus the hot set; with AllWorkers they are
// sampled from the whole universe.
func (g *Generator) Generate(count, worker int) []models.WorkloadUnit {
	dist := Distribution(count)
	units := make([]models.WorkloadUnit, 0, count)

	seq := 0
	for _, t := range Templates {
		for i := 0; i < dist[t.Kind]; i++ {
			n := t.MinInstruments + g.rng.IntN(t.MaxInstruments-t.MinInstruments+1)

			var instruments []string
			if worker == AllWorkers {
				instruments = g.sample(g.universe, n)
			} else {
				instruments = g.selectForWorker(worker, n)
			}

			id := fmt.Sprintf("%s_%d", t.Kind, seq)
			if worker != AllWorkers {
				id = fmt.Sprintf("w%d-%s", worker, id)
			}

			units = append(units, models.WorkloadUnit{
				ID:             id,
				Kind:           t.Kind,
				Instruments:    instruments,
				Timeframe:      t.Timeframe,
				Lookback:       t.Lookbacks[g.rng.IntN(len(t.Lookbacks))],
				CadenceMinutes: models.CadenceMinutes(t.Timeframe),
			})
			seq++
		}
	}
	return units
}

func (g *Generator) selectForWorker(worker, n int) []string {
	hotCount := int(float64(n) * hotShare)
	if hotCount < 1 {
		hotCount = 1
	}
	primaryCount := n - hotCount

	selected := g.sample(g.groups[worker%len(g.groups)], primaryCount)
	selected = append(selected, g.sample(g.hot, hotCount)...)

	if len(selected) < n {
		taken := make(map[string]struct{}, len(selected))
		for _, s := range selected {
			taken[s] = struct{}{}
		}
		var rest []string
		for _, inst := range g.universe {
			if _, ok := taken[inst]; !ok {
				rest = append(rest, inst)
			}
		}
		selected = append(selected, g.sample(rest, n-len(selected))...)
	}
	return selected
}

// sample draws up to n distinct elements of pool.
func (g *Generator) sample(pool []string, n int) []string {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	if n > len(pool) {
		n = len(pool)
	}
	cp := append([]string(nil), pool...)
	for i := 0; i < n; i++ {
		j := i + g.rng.IntN(len(cp)-i)
		cp[i], cp[j] = cp[j], cp[i]
	}
	return cp[:n]
}

// Stats describes a generated set.
type Stats struct {
	Total             int            `json:"total" yaml:"total"`
	ByKind            map[string]int `json:"by_kind" yaml:"by_kind"`
	ByTimeframe       map[string]int `json:"by_timeframe" yaml:"by_timeframe"`
	UniqueInstruments int            `json:"unique_instruments" yaml:"unique_instruments"`
	InstrumentRefs    int            `json:"instrument_refs" yaml:"instrument_refs"`
	MinLookback       int            `json:"min_lookback" yaml:"min_lookback"`
	MaxLookback       int            `json:"max_lookback" yaml:"max_lookback"`
	MostCommon        []string       `json:"most_common" yaml:"most_common"`
}

// Describe summarises units.
func Describe(units []models.WorkloadUnit) Stats {
	s := Stats{
		Total:       len(units),
		ByKind:      make(map[string]int),
		ByTimeframe: make(map[string]int),
	}
	uses := make(map[string]int)
	for i, u := range units {
		s.ByKind[u.Kind]++
		s.ByTimeframe[u.Timeframe]++
		s.InstrumentRefs += len(u.Instruments)
		for _, inst := range u.Instruments {
			uses[inst]++
		}
		if i == 0 || u.Lookback < s.MinLookback {
			s.MinLookback = u.Lookback
		}
		if u.Lookback > s.MaxLookback {
			s.MaxLookback = u.Lookback
		}
	}
	s.UniqueInstruments = len(uses)

	ranked := make([]string, 0, len(uses))
	for inst := range uses {
		ranked = append(ranked, inst)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if uses[ranked[i]] != uses[ranked[j]] {
			return uses[ranked[i]] > uses[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	s.MostCommon = ranked
	return s
}

// UniqueInstruments lists every instrument referenced by units, in first-seen order.
func UniqueInstruments(units []models.WorkloadUnit) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, u := range units {
		for _, inst := range u.Instruments {
			if _, ok := seen[inst]; ok {
				continue
			}
			seen[inst] = struct{}{}
			out = append(out, inst)
		}
	}
	return out
}
