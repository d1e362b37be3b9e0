package origin

import (
	"context"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/atomic"

	"goflare.io/tierbench/internal/config"
	"goflare.io/tierbench/internal/models"
)

// MockFetcher serves a fixed window of one-minute bars ending at the current
// minute. A bar's prices depend only on the instrument and its start time,
// so repeated fetches agree with each other.
type MockFetcher struct {
	window     int
	minLatency time.Duration
	maxLatency time.Duration
	now        func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockFetcher 建立模擬來源
func NewMockFetcher(cfg config.OriginConfig) *MockFetcher {
	window := cfg.MockBars
	if window < 1 {
		window = 1000
	}
	return &MockFetcher{
		window:     window,
		minLatency: cfg.MockLatencyMin,
		maxLatency: cfg.MockLatencyMax,
		now:        time.Now,
		rng:        rand.New(rand.NewPCG(1, 2)),
	}
}

// Fetch implements Fetcher.
func (m *MockFetcher) Fetch(ctx context.Context, instrument string, n int) ([]models.Bar, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}

	if n > m.window {
		n = m.window
	}
	if n <= 0 {
		return []models.Bar{}, nil
	}

	last := m.now().UTC().Truncate(time.Minute)
	bars := make([]models.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = MockBar(instrument, last.Add(-time.Duration(n-1-i)*time.Minute))
	}
	return bars, nil
}

func (m *MockFetcher) sleep(ctx context.Context) error {
	if m.maxLatency <= 0 {
		return ctx.Err()
	}

	d := m.minLatency
	if spread := m.maxLatency - m.minLatency; spread > 0 {
		m.mu.Lock()
		d += time.Duration(m.rng.Int64N(int64(spread)))
		m.mu.Unlock()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MockBar builds the deterministic bar of instrument starting at start.
func MockBar(instrument string, start time.Time) models.Bar {
	base := 50 + float64(xxhash.Sum64String(instrument)%45000)/100
	r := rand.New(rand.NewPCG(xxhash.Sum64String(instrument+":"+strconv.FormatInt(start.Unix(), 10)), 0))

	open := base * (0.95 + r.Float64()*0.1)
	return models.Bar{
		Instrument: instrument,
		StartTime:  start,
		Open:       decimal.NewFromFloat(open).Round(2),
		High:       decimal.NewFromFloat(open * (1 + r.Float64()*0.02)).Round(2),
		Low:        decimal.NewFromFloat(open * (1 - r.Float64()*0.02)).Round(2),
		Close:      decimal.NewFromFloat(open * (0.99 + r.Float64()*0.02)).Round(2),
		Volume:     100_000 + r.Int64N(9_900_000),
	}
}

// Counting wraps a Fetcher and counts calls per instrument.
type Counting struct {
	next  Fetcher
	calls *atomic.Int64

	mu     sync.Mutex
	byInst map[string]int
}

func NewCounting(next Fetcher) *Counting {
	return &Counting{next: next, calls: atomic.NewInt64(0), byInst: make(map[string]int)}
}

func (c *Counting) Fetch(ctx context.Context, instrument string, n int) ([]models.Bar, error) {
	c.calls.Inc()
	c.mu.Lock()
	c.byInst[instrument]++
	c.mu.Unlock()
	return c.next.Fetch(ctx, instrument, n)
}

// Calls is the total number of fetches.
func (c *Counting) Calls() int64 { return c.calls.Load() }

// CallsFor is the number of fetches of one instrument.
func (c *Counting) CallsFor(instrument string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byInst[instrument]
}
