package workers

import (
	"chat-relay/observability"
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Gauge reports a current count, such as sessions online or sockets open.
type Gauge func() int

// Telemetry is one sample of the relay and its process.
type Telemetry struct {
	At              time.Time
	Online          int
	LiveConnections int
	RSSBytes        uint64
	CPUPercent      float64
	Status          string
	Stats           observability.RelayStats
}

// TelemetryWorker samples the relay counters and the process resources every interval
// and logs them. The latest sample is kept for whoever wants to expose it.
type TelemetryWorker struct {
	log      *slog.Logger
	interval time.Duration
	stats    *observability.MonitoringManager
	online   Gauge
	live     Gauge

	mu     sync.RWMutex
	latest Telemetry
}

func NewTelemetryWorker(log *slog.Logger,
	interval time.Duration,
	stats *observability.MonitoringManager,
	online Gauge,
	live Gauge) *TelemetryWorker {
	return &TelemetryWorker{
		log:      log,
		interval: interval,
		stats:    stats,
		online:   online,
		live:     live,
	}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sample := w.sample(p)
			w.mu.Lock()
			w.latest = sample
			w.mu.Unlock()
			w.log.Info("Relay telemetry",
				"online", sample.Online,
				"connections", sample.LiveConnections,
				"rss", sample.RSSBytes,
				"cpu", sample.CPUPercent,
				"logins", sample.Stats.Logins,
				"stored", sample.Stats.MessagesStored,
				"routed", sample.Stats.MessagesRouted,
				"errors", sample.Stats.Errors)
		}
	}
}

// Latest returns the last sample, the zero value before the first tick.
func (w *TelemetryWorker) Latest() Telemetry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest
}

func (w *TelemetryWorker) sample(p *process.Process) Telemetry {
	sample := Telemetry{At: time.Now().UTC(), Stats: w.stats.GetLatest()}
	if w.online != nil {
		sample.Online = w.online()
	}
	if w.live != nil {
		sample.LiveConnections = w.live()
	}

	rss, cpu, status, err := selfStats(p)
	if err != nil {
		// Resource usage is best effort, counters are still worth reporting.
		w.log.Debug("Process stats unavailable", "error", err)
		return sample
	}
	sample.RSSBytes, sample.CPUPercent, sample.Status = rss, cpu, status
	return sample
}

// selfStats retrieves memory, CPU and OS status for the given process.
func selfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}
	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
