package local

import (
	"sort"
	"sync"
	"unsafe"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/tierbench/internal/models"
	"goflare.io/tierbench/internal/utils"
)

// approxBarBytes is the in-memory footprint of one stored bar: the struct
// itself plus the big.Int words behind four decimals.
var approxBarBytes = int64(unsafe.Sizeof(models.Bar{})) + 4*32

// Store owns the buffers of one tiered cache, one per instrument.
// Instruments are spread over shards, each guarded by its own lock.
type Store struct {
	capacity int
	shards   []sync.RWMutex
	buffers  []map[string]*Buffer
	writes   *atomic.Int64
	logger   *zap.Logger
}

// NewStore 建立分片的本地緩存
func NewStore(shardCount uint64, capacity int, logger *zap.Logger) *Store {
	if shardCount == 0 {
		shardCount = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		capacity: capacity,
		shards:   make([]sync.RWMutex, shardCount),
		buffers:  make([]map[string]*Buffer, shardCount),
		writes:   atomic.NewInt64(0),
		logger:   logger,
	}
	for i := range s.buffers {
		s.buffers[i] = make(map[string]*Buffer)
	}
	return s
}

// Get returns the buffer of an instrument, if one was ever populated.
func (s *Store) Get(instrument string) (*Buffer, bool) {
	idx := utils.ShardIndex(uint64(len(s.shards)), instrument)
	s.shards[idx].RLock()
	buf, ok := s.buffers[idx][instrument]
	s.shards[idx].RUnlock()
	return buf, ok
}

// Append merges bars into the instrument's buffer, creating it on first use.
func (s *Store) Append(instrument string, bars ...models.Bar) {
	if len(bars) == 0 {
		return
	}

	idx := utils.ShardIndex(uint64(len(s.shards)), instrument)
	s.shards[idx].Lock()
	buf, ok := s.buffers[idx][instrument]
	if !ok {
		buf = NewBuffer(s.capacity)
		s.buffers[idx][instrument] = buf
		s.logger.Debug("Created local buffer", zap.String("instrument", instrument), zap.Int("capacity", s.capacity))
	}
	s.shards[idx].Unlock()

	buf.Merge(bars...)
	s.writes.Inc()
}

// Instruments lists every instrument with a buffer, sorted.
func (s *Store) Instruments() []string {
	var out []string
	for i := range s.shards {
		s.shards[i].RLock()
		for inst := range s.buffers[i] {
			out = append(out, inst)
		}
		s.shards[i].RUnlock()
	}
	sort.Strings(out)
	return out
}

// Len is the total number of bars held across all buffers.
func (s *Store) Len() int {
	total := 0
	for i := range s.shards {
		s.shards[i].RLock()
		for _, buf := range s.buffers[i] {
			total += buf.Len()
		}
		s.shards[i].RUnlock()
	}
	return total
}

// ApproxBytes estimates the memory held by stored bars.
func (s *Store) ApproxBytes() int64 {
	return int64(s.Len()) * approxBarBytes
}

// Writes counts Append calls that stored at least one bar.
func (s *Store) Writes() int64 {
	return s.writes.Load()
}
