package monitor

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// ProcessStats is a point-in-time snapshot reported on the health endpoint.
type ProcessStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// Collector samples host CPU and memory usage.
type Collector struct {
	logger  *zap.Logger
	started time.Time
}

// NewCollector creates a stats collector.
func NewCollector(logger *zap.Logger) *Collector {
	return &Collector{
		logger:  logger.Named("monitor"),
		started: time.Now(),
	}
}

// Snapshot returns current process stats. Sampling failures degrade to
// zeroed fields rather than failing the health check.
func (c *Collector) Snapshot() *ProcessStats {
	stats := &ProcessStats{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(c.started).Seconds()),
	}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	} else if err != nil {
		c.logger.Warn("Failed to sample CPU usage", zap.Error(err))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryUsedMB = vm.Used / 1024 / 1024
	} else {
		c.logger.Warn("Failed to sample memory usage", zap.Error(err))
	}

	return stats
}
