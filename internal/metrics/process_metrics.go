package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessSample is one resource usage reading of the engine process.
type ProcessSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ProcessConfig configures the self-process sampler.
type ProcessConfig struct {
	Interval   time.Duration
	MaxHistory int
}

// ProcessCollector periodically samples CPU and memory usage of the running
// engine through gopsutil. Samples are kept in a fixed-size ring.
type ProcessCollector struct {
	pid      int32
	interval time.Duration

	mu       sync.RWMutex
	ring     []ProcessSample
	startIdx int
	count    int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent prometheus.Gauge
	memoryMB   prometheus.Gauge
	numThreads prometheus.Gauge
	numFDs     prometheus.Gauge
}

// NewProcessCollector creates a sampler for the current process.
func NewProcessCollector(cfg ProcessConfig) *ProcessCollector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 60
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      name,
			Help:      help,
		})
	}
	return &ProcessCollector{
		pid:        int32(os.Getpid()),
		interval:   interval,
		ring:       make([]ProcessSample, maxHistory),
		stopCh:     make(chan struct{}),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of the engine process."),
		memoryMB:   gauge("memory_mb", "Resident memory of the engine process in MB."),
		numThreads: gauge("num_threads", "Number of OS threads of the engine process."),
		numFDs:     gauge("num_fds", "Number of open file descriptors of the engine process (Unix only)."),
	}
}

// RegisterMetrics registers the process gauges with r.
func (c *ProcessCollector) RegisterMetrics(r prometheus.Registerer) error {
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start takes one sample immediately, then one per interval until ctx is
// cancelled or Stop is called.
func (c *ProcessCollector) Start(ctx context.Context) {
	c.Collect()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect()
			}
		}
	}()
}

// Stop stops sampling and waits for the sampler goroutine.
func (c *ProcessCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample now.
func (c *ProcessCollector) Collect() {
	s, err := sampleProcess(c.pid, time.Now())
	if err != nil {
		slog.Debug("failed to sample engine process", "pid", c.pid, "error", err)
		return
	}
	c.cpuPercent.Set(s.CPUPercent)
	c.memoryMB.Set(s.MemoryMB)
	c.numThreads.Set(float64(s.NumThreads))
	if runtime.GOOS != "windows" && s.NumFDs > 0 {
		c.numFDs.Set(float64(s.NumFDs))
	}
	c.add(s)
}

func sampleProcess(pid int32, ts time.Time) (ProcessSample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ProcessSample{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		cpu = 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return ProcessSample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, err := proc.NumThreads()
	if err != nil {
		threads = 0
	}
	s := ProcessSample{
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		MemoryVMS:  mem.VMS,
		NumThreads: threads,
		Timestamp:  ts,
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDs(); err == nil {
			s.NumFDs = fds
		}
	}
	return s, nil
}

func (c *ProcessCollector) add(s ProcessSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := len(c.ring)
	if c.count < size {
		c.ring[(c.startIdx+c.count)%size] = s
		c.count++
		return
	}
	c.ring[c.startIdx] = s
	c.startIdx = (c.startIdx + 1) % size
}

// Latest returns the most recent sample.
func (c *ProcessCollector) Latest() (ProcessSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.count == 0 {
		return ProcessSample{}, false
	}
	return c.ring[(c.startIdx+c.count-1)%len(c.ring)], true
}

// History returns retained samples, oldest first.
func (c *ProcessCollector) History() []ProcessSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ProcessSample, c.count)
	for i := 0; i < c.count; i++ {
		out[i] = c.ring[(c.startIdx+i)%len(c.ring)]
	}
	return out
}
