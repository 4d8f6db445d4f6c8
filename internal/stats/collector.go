// Package stats samples process resource usage while a long prefetch run is
// in flight, so field devices can be checked for memory and CPU headroom.
package stats

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

// Point is a single sample of runtime stats.
type Point struct {
	Timestamp       time.Time `json:"timestamp"`
	HeapAlloc       uint64    `json:"heap_alloc"`
	Sys             uint64    `json:"sys"`
	NumGC           uint32    `json:"num_gc"`
	ProcessRSSBytes uint64    `json:"process_rss_bytes"`
	CPUPercent      float64   `json:"cpu_percent"`
	SystemCPU       []float64 `json:"system_cpu_percent"`
	NumGoroutine    int       `json:"num_goroutine"`
}

// Summary aggregates the peaks over a run.
type Summary struct {
	Elapsed        time.Duration `json:"elapsed_ns"`
	ElapsedHuman   string        `json:"elapsed"`
	PeakHeapAlloc  uint64        `json:"peak_heap_alloc"`
	PeakProcessRSS uint64        `json:"peak_process_rss"`
	PeakCPUPercent float64       `json:"peak_cpu_percent"`
	AvgCPUPercent  float64       `json:"avg_cpu_percent"`
	PeakGoroutines int           `json:"peak_goroutines"`
	SampleCount    int           `json:"sample_count"`
}

// Collector collects runtime statistics over time.
type Collector struct {
	mu        sync.Mutex
	samples   []Point
	startTime time.Time
	stopChan  chan struct{}
	doneChan  chan struct{}
	interval  time.Duration
	proc      *process.Process
}

func NewCollector(interval time.Duration) (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to get process info: %w", err)
	}

	return &Collector{
		samples:  make([]Point, 0, 64),
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		proc:     proc,
	}, nil
}

// Start begins collecting in the background.
func (c *Collector) Start() {
	c.startTime = time.Now()
	go c.collect()
}

func (c *Collector) collect() {
	defer close(c.doneChan)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample()
	for {
		select {
		case <-c.stopChan:
			c.sample()
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	point := Point{
		Timestamp:    time.Now(),
		HeapAlloc:    memStats.HeapAlloc,
		Sys:          memStats.Sys,
		NumGC:        memStats.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
	}

	if memInfo, err := c.proc.MemoryInfo(); err == nil && memInfo != nil {
		point.ProcessRSSBytes = memInfo.RSS
	}
	if cpuPercent, err := c.proc.CPUPercent(); err == nil {
		point.CPUPercent = cpuPercent
	}
	if systemCPU, err := cpu.Percent(0, true); err == nil {
		point.SystemCPU = systemCPU
	}

	c.mu.Lock()
	c.samples = append(c.samples, point)
	c.mu.Unlock()
}

// Stop ends collection and returns the run summary.
func (c *Collector) Stop() Summary {
	close(c.stopChan)
	<-c.doneChan

	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)
	s := Summary{
		Elapsed:      elapsed,
		ElapsedHuman: elapsed.String(),
		SampleCount:  len(c.samples),
	}

	var totalCPU float64
	for _, p := range c.samples {
		if p.HeapAlloc > s.PeakHeapAlloc {
			s.PeakHeapAlloc = p.HeapAlloc
		}
		if p.ProcessRSSBytes > s.PeakProcessRSS {
			s.PeakProcessRSS = p.ProcessRSSBytes
		}
		if p.CPUPercent > s.PeakCPUPercent {
			s.PeakCPUPercent = p.CPUPercent
		}
		if p.NumGoroutine > s.PeakGoroutines {
			s.PeakGoroutines = p.NumGoroutine
		}
		totalCPU += p.CPUPercent
	}
	if len(c.samples) > 0 {
		s.AvgCPUPercent = totalCPU / float64(len(c.samples))
	}
	return s
}
