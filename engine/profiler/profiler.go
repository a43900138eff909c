// Package profiler reports frame rate, command queue throughput and memory
// statistics through the engine logger.
package profiler

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
	"github.com/Carmen-Shannon/oxy-queue/engine/logger"
)

// Report is one interval's worth of statistics.
type Report struct {
	FPS float64

	// DispatchRate is the number of queue entries dispatched per second.
	DispatchRate float64

	// Enqueued and Collapsed are the queue counter deltas over the interval.
	Enqueued  uint64
	Collapsed uint64

	HeapMB      float64
	AllocRateMB float64
	SysMB       float64
	GCCount     uint32
	LastPauseUs uint64
	MaxPauseUs  uint64
}

// Profiler tracks frame rate and memory statistics for performance monitoring.
// It implements gpu.FrameObserver and logs a Report at a configurable interval.
// It is called only from the context thread.
type Profiler struct {
	frameCount     int
	dispatched     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	lastQueue      gpu.QueueStats
	now            func() time.Time
	onReport       func(Report)
}

var _ gpu.FrameObserver = &Profiler{}

// ProfilerBuilderOption is a functional option for configuring a Profiler.
type ProfilerBuilderOption func(*Profiler)

// WithInterval sets how often statistics are reported. Defaults to 1 second.
//
// Parameters:
//   - d: the reporting interval
//
// Returns:
//   - ProfilerBuilderOption: option function to apply
func WithInterval(d time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.updateInterval = d
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.now = now
	}
}

// WithReportHandler registers a callback receiving every Report after it is logged.
//
// Parameters:
//   - fn: the callback, run on the context thread
//
// Returns:
//   - ProfilerBuilderOption: option function to apply
func WithReportHandler(fn func(Report)) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.onReport = fn
	}
}

// NewProfiler creates a new Profiler. Update interval defaults to 1 second.
//
// Parameters:
//   - options: functional options to configure the profiler
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		updateInterval: time.Second,
		now:            time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	p.lastTime = p.now()
	return p
}

// FrameDone records one presented frame.
func (p *Profiler) FrameDone(dispatched int, stats gpu.QueueStats) {
	p.Tick(dispatched, stats)
}

// Tick records one frame and logs statistics when the update interval has elapsed.
//
// Parameters:
//   - dispatched: queue entries dispatched during the frame
//   - stats: the queue's cumulative counters after the frame
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick(dispatched int, stats gpu.QueueStats) bool {
	p.frameCount++
	p.dispatched += dispatched
	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval || elapsed <= 0 {
		return false
	}

	runtime.ReadMemStats(&p.memStats)
	r := Report{
		FPS:          float64(p.frameCount) / elapsed.Seconds(),
		DispatchRate: float64(p.dispatched) / elapsed.Seconds(),
		Enqueued:     stats.Enqueued - p.lastQueue.Enqueued,
		Collapsed:    stats.Collapsed - p.lastQueue.Collapsed,
		HeapMB:       float64(p.memStats.Alloc) / 1024 / 1024,
		SysMB:        float64(p.memStats.Sys) / 1024 / 1024,
		AllocRateMB:  float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / elapsed.Seconds(),
		GCCount:      p.memStats.NumGC,
	}

	// PauseNs is a circular buffer of the last 256 GC pauses.
	if gcCount := p.memStats.NumGC; gcCount > 0 {
		r.LastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			r.MaxPauseUs = max(r.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	logger.Logger().Info("profiler",
		"fps", r.FPS,
		"dispatch_rate", r.DispatchRate,
		"enqueued", r.Enqueued,
		"collapsed", r.Collapsed,
		"heap_mb", r.HeapMB,
		"alloc_rate_mb", r.AllocRateMB,
		"gc", r.GCCount,
		"gc_last_us", r.LastPauseUs,
		"gc_max_us", r.MaxPauseUs,
		"sys_mb", r.SysMB,
	)
	if p.onReport != nil {
		p.onReport(r)
	}

	p.frameCount = 0
	p.dispatched = 0
	p.lastTime = currentTime
	p.lastGCCount = r.GCCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	p.lastQueue = stats
	return true
}
