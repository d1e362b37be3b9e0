// Package sysmetrics samples process resource usage while a worker runs.
// The numbers are for reporting only.
package sysmetrics

import (
	"context"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

const mb = 1024 * 1024

// Snapshot is one reading, relative to Start.
type Snapshot struct {
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryRSSMB    float64 `json:"memory_rss_mb"`
	Threads        int     `json:"threads"`
	Goroutines     int     `json:"goroutines"`
	NetworkSent    uint64  `json:"network_bytes_sent"`
	NetworkRecv    uint64  `json:"network_bytes_recv"`
}

type CPUSummary struct {
	AvgPercent float64 `json:"avg_percent"`
	MaxPercent float64 `json:"max_percent"`
	MinPercent float64 `json:"min_percent"`
	NumCores   int     `json:"num_cores"`
}

type MemorySummary struct {
	AvgRSSMB   float64 `json:"avg_rss_mb"`
	MaxRSSMB   float64 `json:"max_rss_mb"`
	FinalRSSMB float64 `json:"final_rss_mb"`
}

type NetworkSummary struct {
	TotalSentMB float64 `json:"total_sent_mb"`
	TotalRecvMB float64 `json:"total_recv_mb"`
}

type ThreadSummary struct {
	Avg   float64 `json:"avg"`
	Max   int     `json:"max"`
	Final int     `json:"final"`
}

// Summary aggregates every snapshot taken so far.
type Summary struct {
	DurationSeconds    float64        `json:"duration_seconds"`
	CPU                CPUSummary     `json:"cpu"`
	Memory             MemorySummary  `json:"memory"`
	Network            NetworkSummary `json:"network"`
	Threads            ThreadSummary  `json:"threads"`
	MaxGoroutines      int            `json:"max_goroutines"`
	SnapshotsCollected int            `json:"snapshots_collected"`
}

// reading is a raw, cumulative sample.
type reading struct {
	rssBytes   uint64
	cpuSeconds float64
	threads    int
	netSent    uint64
	netRecv    uint64
}

type source interface {
	read() (reading, error)
}

// procSource reads /proc/self.
type procSource struct{}

func (procSource) read() (reading, error) {
	p, err := procfs.Self()
	if err != nil {
		return reading{}, err
	}
	stat, err := p.Stat()
	if err != nil {
		return reading{}, err
	}
	r := reading{
		rssBytes:   uint64(stat.ResidentMemory()),
		cpuSeconds: stat.CPUTime(),
		threads:    stat.NumThreads,
	}
	if dev, err := p.NetDev(); err == nil {
		total := dev.Total()
		r.netSent, r.netRecv = total.TxBytes, total.RxBytes
	}
	return r, nil
}

// runtimeSource is used where /proc is unavailable.
type runtimeSource struct{}

func (runtimeSource) read() (reading, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return reading{
		rssBytes: ms.Sys,
		threads:  pprof.Lookup("threadcreate").Count(),
	}, nil
}

// Sampler records snapshots of the current process.
type Sampler struct {
	src    source
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	started   time.Time
	base      reading
	last      reading
	lastAt    time.Time
	snapshots []Snapshot
}

// NewSampler reads /proc when it can and falls back to Go runtime statistics.
func NewSampler(logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	var src source = procSource{}
	if _, err := src.read(); err != nil {
		logger.Debug("procfs unavailable, sampling Go runtime statistics", zap.Error(err))
		src = runtimeSource{}
	}
	return newSampler(src, logger)
}

func newSampler(src source, logger *zap.Logger) *Sampler {
	return &Sampler{src: src, logger: logger, now: time.Now}
}

// Start records the baseline that CPU and network figures are relative to.
func (s *Sampler) Start() {
	r, err := s.src.read()
	if err != nil {
		s.logger.Warn("Failed to read baseline resource usage", zap.Error(err))
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = now
	s.base = r
	s.last = r
	s.lastAt = now
	s.snapshots = nil
}

// Snapshot takes and records one reading.
func (s *Sampler) Snapshot() Snapshot {
	r, err := s.src.read()
	if err != nil {
		s.logger.Warn("Failed to read resource usage", zap.Error(err))
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		s.started, s.base, s.last, s.lastAt = now, r, r, now
	}

	var cpu float64
	if wall := now.Sub(s.lastAt).Seconds(); wall > 0 {
		cpu = (r.cpuSeconds - s.last.cpuSeconds) / wall * 100
	}
	snap := Snapshot{
		ElapsedSeconds: now.Sub(s.started).Seconds(),
		CPUPercent:     cpu,
		MemoryRSSMB:    float64(r.rssBytes) / mb,
		Threads:        r.threads,
		Goroutines:     runtime.NumGoroutine(),
		NetworkSent:    sub(r.netSent, s.base.netSent),
		NetworkRecv:    sub(r.netRecv, s.base.netRecv),
	}
	s.last, s.lastAt = r, now
	s.snapshots = append(s.snapshots, snap)
	return snap
}

// Run snapshots every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Snapshot()
		}
	}
}

// Summary aggregates the snapshots. It is the zero value before any snapshot.
func (s *Sampler) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.snapshots)
	if n == 0 {
		return Summary{}
	}
	first, final := s.snapshots[0], s.snapshots[n-1]

	sum := Summary{
		DurationSeconds:    final.ElapsedSeconds,
		SnapshotsCollected: n,
		CPU:                CPUSummary{MinPercent: first.CPUPercent, NumCores: runtime.NumCPU()},
		Memory:             MemorySummary{FinalRSSMB: final.MemoryRSSMB},
		Network: NetworkSummary{
			TotalSentMB: float64(final.NetworkSent) / mb,
			TotalRecvMB: float64(final.NetworkRecv) / mb,
		},
		Threads: ThreadSummary{Final: final.Threads},
	}

	var cpu, rss, threads float64
	for _, snap := range s.snapshots {
		cpu += snap.CPUPercent
		rss += snap.MemoryRSSMB
		threads += float64(snap.Threads)
		sum.CPU.MaxPercent = max(sum.CPU.MaxPercent, snap.CPUPercent)
		sum.CPU.MinPercent = min(sum.CPU.MinPercent, snap.CPUPercent)
		sum.Memory.MaxRSSMB = max(sum.Memory.MaxRSSMB, snap.MemoryRSSMB)
		sum.Threads.Max = max(sum.Threads.Max, snap.Threads)
		sum.MaxGoroutines = max(sum.MaxGoroutines, snap.Goroutines)
	}
	sum.CPU.AvgPercent = cpu / float64(n)
	sum.Memory.AvgRSSMB = rss / float64(n)
	sum.Threads.Avg = threads / float64(n)
	return sum
}

func sub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
