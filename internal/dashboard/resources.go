package dashboard

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"fundingdesk/logger"
)

type hostSample struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryPct   float64   `json:"memory_percent"`
	DiskPct     float64   `json:"disk_percent"`
	Goroutines  int       `json:"goroutines"`
	HeapAlloc   uint64    `json:"heap_alloc"`
}

// hostSampler records host and process usage at a fixed interval. Partial
// samples are kept when one collector fails.
type hostSampler struct {
	mu       sync.RWMutex
	items    []hostSample
	limit    int
	interval time.Duration
	diskPath string

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	log     *logger.Log
}

var (
	cpuPercentFn = func(ctx context.Context) ([]float64, error) {
		return cpu.PercentWithContext(ctx, 0, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
	diskUsageFn   = disk.UsageWithContext
)

func newHostSampler(limit int, interval time.Duration, log *logger.Log) *hostSampler {
	if limit <= 0 {
		limit = 120
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &hostSampler{limit: limit, interval: interval, diskPath: "/", log: log}
}

func (s *hostSampler) start(ctx context.Context) {
	if s.running.Swap(true) {
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(childCtx)
}

func (s *hostSampler) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.running.Store(false)
}

func (s *hostSampler) snapshot() []hostSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]hostSample, len(s.items))
	copy(out, s.items)
	return out
}

func (s *hostSampler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.record(s.sample(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *hostSampler) sample(ctx context.Context) hostSample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	sample := hostSample{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
	}
	log := s.log.WithComponent("host_sampler")

	if cpuSamples, err := cpuPercentFn(ctx); err != nil {
		log.WithError(err).Debug("failed to sample cpu usage")
	} else if len(cpuSamples) > 0 {
		sample.CPUPercent = cpuSamples[0]
	}
	if vm, err := memoryStatsFn(ctx); err != nil {
		log.WithError(err).Debug("failed to sample memory usage")
	} else {
		sample.MemoryUsed, sample.MemoryTotal, sample.MemoryPct = vm.Used, vm.Total, vm.UsedPercent
	}
	if du, err := diskUsageFn(ctx, s.diskPath); err != nil {
		log.WithError(err).Debug("failed to sample disk usage")
	} else {
		sample.DiskPct = du.UsedPercent
	}
	return sample
}

func (s *hostSampler) record(sample hostSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, sample)
	if len(s.items) > s.limit {
		s.items = append([]hostSample(nil), s.items[len(s.items)-s.limit:]...)
	}
}
