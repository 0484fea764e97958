package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/memory"
)

const (
	// sysSampleInterval is how often the usage snapshot refreshes.
	sysSampleInterval = 15 * time.Second
	// cpuSampleWindow is the delta window for the CPU gauge.
	cpuSampleWindow = time.Second
)

// sysSnapshot is one reading of the host usage gauges.
type sysSnapshot struct {
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used_bytes"`
	MemoryTotal uint64    `json:"memory_total_bytes"`
	SampledAt   time.Time `json:"sampled_at"`
}

// sysSampler keeps a recent usage snapshot so status requests never block
// on CPU sampling.
type sysSampler struct {
	mu   sync.RWMutex
	snap sysSnapshot
}

func newSysSampler() *sysSampler {
	return &sysSampler{}
}

// run refreshes the snapshot until ctx is cancelled.
func (s *sysSampler) run(ctx context.Context) {
	ticker := time.NewTicker(sysSampleInterval)
	defer ticker.Stop()

	s.sample()
	for {
		select {
		case <-ticker.C:
			s.sample()
		case <-ctx.Done():
			return
		}
	}
}

func (s *sysSampler) sample() {
	snap := sysSnapshot{SampledAt: time.Now()}

	if pct, err := cpuUsagePercent(cpuSampleWindow); err == nil {
		snap.CPUPercent = pct
	}
	if mem, err := memory.Get(); err == nil {
		snap.MemoryUsed = mem.Used
		snap.MemoryTotal = mem.Total
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func (s *sysSampler) snapshot() sysSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// cpuUsagePercent derives CPU usage from two counter readings spaced a
// window apart.
func cpuUsagePercent(window time.Duration) (float64, error) {
	before, err := cpu.Get()
	if err != nil {
		return 0, err
	}
	time.Sleep(window)
	after, err := cpu.Get()
	if err != nil {
		return 0, err
	}

	idle := float64(after.Idle - before.Idle)
	total := float64(after.Total - before.Total)
	if total == 0 {
		return 0, nil
	}
	return (1.0 - idle/total) * 100.0, nil
}
