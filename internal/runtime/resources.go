package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/drblury/messagebus/internal/runtime/clock"
)

const (
	cpuSecondsMetric = "/cpu/classes/total:cpu-seconds"
	heapBytesMetric  = "/memory/classes/heap/objects:bytes"
	goroutinesMetric = "/sched/goroutines:goroutines"
)

// ResourceUsage is the process snapshot logged with thread debugging.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
	Procs       int     `json:"procs"`
}

// resourceTracker reads runtime/metrics and derives CPU usage from the
// previous snapshot. Safe for concurrent publishes.
type resourceTracker struct {
	clock clock.Clock

	mu         sync.Mutex
	samples    []metrics.Sample
	lastCPU    float64
	lastSample time.Time
}

func newResourceTracker(clk clock.Clock) *resourceTracker {
	if clk == nil {
		clk = clock.System{}
	}
	return &resourceTracker{clock: clk, samples: newSamples()}
}

func newSamples() []metrics.Sample {
	return []metrics.Sample{
		{Name: cpuSecondsMetric},
		{Name: heapBytesMetric},
		{Name: goroutinesMetric},
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = newSamples()
	}
	if r.clock == nil {
		r.clock = clock.System{}
	}
	metrics.Read(r.samples)
	now := r.clock.Now()

	usage := ResourceUsage{
		Goroutines: runtime.NumGoroutine(),
		Procs:      runtime.GOMAXPROCS(0),
	}
	for _, s := range r.samples {
		switch {
		case s.Name == heapBytesMetric && s.Value.Kind() == metrics.KindUint64:
			usage.MemoryBytes = s.Value.Uint64()
		case s.Name == goroutinesMetric && s.Value.Kind() == metrics.KindUint64:
			usage.Goroutines = int(s.Value.Uint64())
		case s.Name == cpuSecondsMetric && s.Value.Kind() == metrics.KindFloat64:
			cpu := s.Value.Float64()
			if !r.lastSample.IsZero() {
				usage.CPUPercent = cpuPercent(cpu-r.lastCPU, now.Sub(r.lastSample), usage.Procs)
			}
			r.lastCPU = cpu
		}
	}
	if usage.MemoryBytes == 0 {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		usage.MemoryBytes = mem.HeapAlloc
	}
	r.lastSample = now
	return usage
}

// cpuPercent spreads cpuSeconds over the wall interval and the available
// processors.
func cpuPercent(cpuSeconds float64, wall time.Duration, procs int) float64 {
	if wall <= 0 || procs <= 0 || cpuSeconds < 0 {
		return 0
	}
	return cpuSeconds / wall.Seconds() / float64(procs) * 100
}
