// Package local implements the in-process tier: fixed-capacity bar buffers
// per instrument, sharded the same way across instruments.
package local

import (
	"sort"
	"sync"
	"time"

	"goflare.io/tierbench/internal/models"
)

// Buffer is a fixed-capacity ring of bars in arrival order.
// The oldest bar is evicted once the buffer is full.
type Buffer struct {
	mu         sync.RWMutex
	bars       []models.Bar
	head       int // index of the oldest bar
	size       int
	lastUpdate time.Time
	now        func() time.Time
}

// NewBuffer 建立指定容量的環形緩衝區
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		bars: make([]models.Bar, capacity),
		now:  time.Now,
	}
}

// Append stores bars in order, evicting the oldest on overflow.
func (b *Buffer) Append(bars ...models.Bar) {
	if len(bars) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(bars)
}

func (b *Buffer) appendLocked(bars []models.Bar) {
	capacity := len(b.bars)
	for _, bar := range bars {
		if b.size < capacity {
			b.bars[(b.head+b.size)%capacity] = bar
			b.size++
			continue
		}
		b.bars[b.head] = bar
		b.head = (b.head + 1) % capacity
	}
	b.lastUpdate = b.now()
}

// Merge folds bars into the buffer by start time. Bars newer than the
// newest stored one are appended; otherwise the union is rebuilt in time
// order with one bar per start time, the incoming copy winning. Empty bars
// are ignored.
func (b *Buffer) Merge(bars ...models.Bar) {
	incoming := make([]models.Bar, 0, len(bars))
	for _, bar := range bars {
		if !bar.IsZero() {
			incoming = append(incoming, bar)
		}
	}
	if len(incoming) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.appendable(incoming) {
		b.appendLocked(incoming)
		return
	}

	byStart := make(map[int64]models.Bar, b.size+len(incoming))
	capacity := len(b.bars)
	for i := 0; i < b.size; i++ {
		bar := b.bars[(b.head+i)%capacity]
		byStart[bar.StartTime.UnixNano()] = bar
	}
	for _, bar := range incoming {
		byStart[bar.StartTime.UnixNano()] = bar
	}

	merged := make([]models.Bar, 0, len(byStart))
	for _, bar := range byStart {
		merged = append(merged, bar)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].StartTime.Before(merged[j].StartTime) })
	if len(merged) > capacity {
		merged = merged[len(merged)-capacity:]
	}

	copy(b.bars, merged)
	b.head = 0
	b.size = len(merged)
	b.lastUpdate = b.now()
}

// appendable reports whether incoming is strictly ascending and starts
// after the newest stored bar. Callers hold the lock.
func (b *Buffer) appendable(incoming []models.Bar) bool {
	for i := 1; i < len(incoming); i++ {
		if !incoming[i].StartTime.After(incoming[i-1].StartTime) {
			return false
		}
	}
	if b.size == 0 {
		return true
	}
	newest := b.bars[(b.head+b.size-1)%len(b.bars)]
	return incoming[0].StartTime.After(newest.StartTime)
}

// LastN returns the n most recent bars, oldest first.
// It reports false when fewer than n bars are stored.
func (b *Buffer) LastN(n int) ([]models.Bar, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.size {
		return nil, false
	}

	capacity := len(b.bars)
	out := make([]models.Bar, n)
	start := b.head + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.bars[(start+i)%capacity]
	}
	return out, true
}

// Current returns the newest bar.
func (b *Buffer) Current() (models.Bar, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return models.Bar{}, false
	}
	return b.bars[(b.head+b.size-1)%len(b.bars)], true
}

// IsStale reports whether the last append happened more than maxAge ago.
// A buffer that was never written is stale.
func (b *Buffer) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.lastUpdate.IsZero() {
		return true
	}
	return b.now().Sub(b.lastUpdate) > maxAge
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer) Cap() int {
	return len(b.bars)
}

func (b *Buffer) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}
