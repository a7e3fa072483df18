package ffmpeg

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage statistics for an ffmpeg process.
type ProcessStats struct {
	PID int `json:"pid"`

	CPUPercent float64       `json:"cpu_percent"` // per core, so may exceed 100
	CPUUser    time.Duration `json:"cpu_user"`
	CPUSystem  time.Duration `json:"cpu_system"`

	MemoryRSSBytes  uint64  `json:"memory_rss_bytes"`
	MemoryPeakBytes uint64  `json:"memory_peak_bytes"`
	MemoryPercent   float64 `json:"memory_percent"`

	// Raw media piped into and out of the process.
	BytesWritten uint64 `json:"bytes_written"`
	BytesRead    uint64 `json:"bytes_read"`

	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	LastUpdated time.Time     `json:"last_updated"`
}

// LogValue renders the stats as a compact slog group.
func (s ProcessStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("pid", s.PID),
		slog.String("cpu_user", s.CPUUser.String()),
		slog.String("cpu_system", s.CPUSystem.String()),
		slog.String("rss_peak", humanize.IBytes(s.MemoryPeakBytes)),
		slog.String("piped_in", humanize.IBytes(s.BytesWritten)),
		slog.String("piped_out", humanize.IBytes(s.BytesRead)),
		slog.Duration("duration", s.Duration),
	)
}

// ProcessMonitor samples resource usage of an ffmpeg process until stopped.
type ProcessMonitor struct {
	pid       int
	startedAt time.Time
	interval  time.Duration

	mu    sync.RWMutex
	stats ProcessStats
	proc  *process.Process

	bytesWritten atomic.Uint64
	bytesRead    atomic.Uint64

	totalMemory uint64

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewProcessMonitor creates a monitor for pid. Sampling begins with Start.
func NewProcessMonitor(pid int) *ProcessMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	pm := &ProcessMonitor{
		pid:       pid,
		startedAt: time.Now(),
		interval:  time.Second,
		ctx:       ctx,
		cancel:    cancel,
	}
	pm.stats.PID = pid
	pm.stats.StartedAt = pm.startedAt

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		pm.totalMemory = vm.Total
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(pid)); err == nil {
		pm.proc = proc
	}

	return pm
}

// SetInterval sets the sampling interval. It has no effect after Start.
func (pm *ProcessMonitor) SetInterval(d time.Duration) {
	pm.mu.Lock()
	pm.interval = d
	pm.mu.Unlock()
}

// Start begins sampling in the background.
func (pm *ProcessMonitor) Start() {
	pm.startOnce.Do(func() {
		pm.wg.Add(1)
		go pm.monitorLoop()
	})
}

// Stop ends sampling and takes a final sample if the process is still
// inspectable.
func (pm *ProcessMonitor) Stop() {
	pm.stopOnce.Do(func() {
		pm.sample()
		pm.cancel()
	})
	pm.wg.Wait()
}

// Stats returns the latest sample.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stats := pm.stats
	stats.BytesWritten = pm.bytesWritten.Load()
	stats.BytesRead = pm.bytesRead.Load()
	return stats
}

// AddBytesWritten adds to the bytes written counter.
func (pm *ProcessMonitor) AddBytesWritten(n uint64) {
	pm.bytesWritten.Add(n)
}

// AddBytesRead adds to the bytes read counter.
func (pm *ProcessMonitor) AddBytesRead(n uint64) {
	pm.bytesRead.Add(n)
}

func (pm *ProcessMonitor) monitorLoop() {
	defer pm.wg.Done()

	pm.mu.RLock()
	interval := pm.interval
	pm.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.sample()
	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.sample()
		}
	}
}

func (pm *ProcessMonitor) sample() {
	now := time.Now()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stats.Duration = now.Sub(pm.startedAt)
	pm.stats.LastUpdated = now

	if pm.proc == nil {
		return
	}

	// Errors mean the process has exited; the previous sample stands.
	if times, err := pm.proc.TimesWithContext(pm.ctx); err == nil && times != nil {
		pm.stats.CPUUser = time.Duration(times.User * float64(time.Second))
		pm.stats.CPUSystem = time.Duration(times.System * float64(time.Second))
	}
	if pct, err := pm.proc.PercentWithContext(pm.ctx, 0); err == nil {
		pm.stats.CPUPercent = pct
	}
	if info, err := pm.proc.MemoryInfoWithContext(pm.ctx); err == nil && info != nil {
		pm.stats.MemoryRSSBytes = info.RSS
		pm.stats.MemoryPeakBytes = max(pm.stats.MemoryPeakBytes, info.RSS)
		if pm.totalMemory > 0 {
			pm.stats.MemoryPercent = float64(info.RSS) / float64(pm.totalMemory) * 100.0
		}
	}
}

// CountingWriter wraps an io.Writer and reports bytes written to a monitor.
type CountingWriter struct {
	w       io.Writer
	monitor *ProcessMonitor
}

// NewCountingWriter creates a writer that counts bytes and reports to monitor.
func NewCountingWriter(w io.Writer, monitor *ProcessMonitor) *CountingWriter {
	return &CountingWriter{w: w, monitor: monitor}
}

// Write implements io.Writer and tracks bytes written.
func (cw *CountingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 && cw.monitor != nil {
		cw.monitor.AddBytesWritten(uint64(n))
	}
	return n, err
}

// CountingReader wraps an io.Reader and reports bytes read to a monitor.
type CountingReader struct {
	r       io.Reader
	monitor *ProcessMonitor
}

// NewCountingReader creates a reader that counts bytes and reports to monitor.
func NewCountingReader(r io.Reader, monitor *ProcessMonitor) *CountingReader {
	return &CountingReader{r: r, monitor: monitor}
}

// Read implements io.Reader and tracks bytes read.
func (cr *CountingReader) Read(p []byte) (n int, err error) {
	n, err = cr.r.Read(p)
	if n > 0 && cr.monitor != nil {
		cr.monitor.AddBytesRead(uint64(n))
	}
	return n, err
}

// NewCountingWriterCloser is NewCountingWriter for pipes that must also be
// closed.
func NewCountingWriterCloser(w io.WriteCloser, monitor *ProcessMonitor) io.WriteCloser {
	return struct {
		io.Writer
		io.Closer
	}{NewCountingWriter(w, monitor), w}
}
