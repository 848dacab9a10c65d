package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is one resource snapshot of the backend process.
type Sample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// SamplerConfig holds configuration for backend resource sampling.
type SamplerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// Sampler periodically samples CPU and memory usage of the backend process.
// The PID is re-resolved on every tick so the sampler survives a backend
// that is restarted out from under the API server.
type Sampler struct {
	enabled  bool
	interval time.Duration

	mu       sync.RWMutex
	ring     []Sample
	startIdx int
	count    int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	up         prometheus.Gauge
	cpuPercent prometheus.Gauge
	memoryMB   prometheus.Gauge
	numThreads prometheus.Gauge
	numFDs     prometheus.Gauge
}

// NewSampler creates a backend resource sampler.
func NewSampler(config SamplerConfig) *Sampler {
	maxHistory := config.MaxHistory
	if maxHistory == 0 {
		maxHistory = 100
	}
	interval := config.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}

	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ocrd",
			Subsystem: "backend",
			Name:      name,
			Help:      help,
		})
	}
	return &Sampler{
		enabled:    config.Enabled,
		interval:   interval,
		ring:       make([]Sample, maxHistory),
		stopCh:     make(chan struct{}),
		up:         gauge("up", "Whether a live backend process is currently observed (1 or 0)."),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of the backend process."),
		memoryMB:   gauge("memory_mb", "Resident memory of the backend process in MB."),
		numThreads: gauge("num_threads", "Thread count of the backend process."),
		numFDs:     gauge("num_fds", "Open file descriptors of the backend process (Unix only)."),
	}
}

// RegisterMetrics registers the sampler gauges with the provided registerer.
func (s *Sampler) RegisterMetrics(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	collectors := []prometheus.Collector{s.up, s.cpuPercent, s.memoryMB, s.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, s.numFDs)
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic collection. pidFn is called on every tick and should
// return the backend PID, or 0 when no live backend is known.
func (s *Sampler) Start(ctx context.Context, pidFn func() int32) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.collect(pidFn())
			}
		}
	}()
}

// Stop stops the collection goroutine and waits for it to exit.
func (s *Sampler) Stop() {
	if !s.enabled {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sampler) collect(pid int32) {
	if pid <= 0 {
		s.up.Set(0)
		return
	}
	sample, err := snapshot(pid)
	if err != nil {
		slog.Debug("backend sample failed", "pid", pid, "error", err)
		s.up.Set(0)
		return
	}

	s.up.Set(1)
	s.cpuPercent.Set(sample.CPUPercent)
	s.memoryMB.Set(sample.MemoryMB)
	s.numThreads.Set(float64(sample.NumThreads))
	if runtime.GOOS != "windows" && sample.NumFDs > 0 {
		s.numFDs.Set(float64(sample.NumFDs))
	}
	s.record(sample)
}

// snapshot reads one Sample for pid via gopsutil.
func snapshot(pid int32) (Sample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return Sample{}, fmt.Errorf("process handle: %w", err)
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("memory info: %w", err)
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		cpuPercent = 0
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		numThreads = 0
	}
	sample := Sample{
		PID:        pid,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		NumThreads: numThreads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if numFDs, err := proc.NumFDs(); err == nil {
			sample.NumFDs = numFDs
		}
	}
	return sample, nil
}

// record appends to the circular buffer, overwriting the oldest entry once full.
func (s *Sampler) record(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count < len(s.ring) {
		s.ring[s.count] = sample
		s.count++
		return
	}
	s.ring[s.startIdx] = sample
	s.startIdx = (s.startIdx + 1) % len(s.ring)
}

// Latest returns the most recent sample, if any has been collected.
func (s *Sampler) Latest() (Sample, bool) {
	if !s.enabled {
		return Sample{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 {
		return Sample{}, false
	}
	idx := s.count - 1
	if s.count == len(s.ring) {
		idx = (s.startIdx - 1 + len(s.ring)) % len(s.ring)
	}
	return s.ring[idx], true
}

// History returns collected samples in chronological order.
func (s *Sampler) History() []Sample {
	if !s.enabled {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 {
		return nil
	}
	out := make([]Sample, s.count)
	if s.count < len(s.ring) {
		copy(out, s.ring[:s.count])
		return out
	}
	n := copy(out, s.ring[s.startIdx:])
	copy(out[n:], s.ring[:s.startIdx])
	return out
}

// IsEnabled reports whether sampling is configured on.
func (s *Sampler) IsEnabled() bool { return s.enabled }
