package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

func stubCollectors(t *testing.T, cpuErr error) {
	t.Helper()
	origCPU, origMem, origDisk := cpuPercentFn, memoryStatsFn, diskUsageFn
	t.Cleanup(func() {
		cpuPercentFn, memoryStatsFn, diskUsageFn = origCPU, origMem, origDisk
	})

	cpuPercentFn = func(context.Context) ([]float64, error) {
		if cpuErr != nil {
			return nil, cpuErr
		}
		return []float64{42.5}, nil
	}
	memoryStatsFn = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Used: 512, Total: 1024, UsedPercent: 50}, nil
	}
	diskUsageFn = func(_ context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, UsedPercent: 75}, nil
	}
}

func TestHostSamplerSample(t *testing.T) {
	stubCollectors(t, nil)
	s := newHostSampler(3, time.Second, testLogger())

	sample := s.sample(context.Background())
	if sample.CPUPercent != 42.5 || sample.MemoryPct != 50 || sample.MemoryTotal != 1024 || sample.DiskPct != 75 {
		t.Fatalf("unexpected sample %+v", sample)
	}
	if sample.Goroutines == 0 || sample.HeapAlloc == 0 {
		t.Fatalf("process stats missing: %+v", sample)
	}
}

func TestHostSamplerKeepsPartialSample(t *testing.T) {
	stubCollectors(t, errors.New("cpu unavailable"))
	s := newHostSampler(3, time.Second, testLogger())

	sample := s.sample(context.Background())
	if sample.CPUPercent != 0 || sample.MemoryPct != 50 {
		t.Fatalf("expected memory without cpu, got %+v", sample)
	}
}

func TestHostSamplerLimitsHistory(t *testing.T) {
	s := newHostSampler(2, time.Second, testLogger())
	for i := 1; i <= 4; i++ {
		s.record(hostSample{Goroutines: i})
	}

	got := s.snapshot()
	if len(got) != 2 || got[0].Goroutines != 3 || got[1].Goroutines != 4 {
		t.Fatalf("unexpected history %+v", got)
	}
}

func TestHostSamplerStartStop(t *testing.T) {
	stubCollectors(t, nil)
	s := newHostSampler(5, time.Hour, testLogger())

	s.start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for len(s.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.stop()

	if len(s.snapshot()) != 1 {
		t.Fatalf("expected one immediate sample, got %d", len(s.snapshot()))
	}
}
