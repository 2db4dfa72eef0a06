package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

var (
	hostCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "host_cpu_usage_percent",
		Help: "System-wide CPU usage, sampled periodically.",
	})
	hostMemoryUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "host_memory_used_bytes",
		Help: "System-wide memory in use, sampled periodically.",
	})
	hostMemoryTotalBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "host_memory_total_bytes",
		Help: "Total system memory, sampled periodically.",
	})
)

// HostSampler periodically samples host CPU and memory usage into
// Prometheus gauges, for operator dashboards that want system-level
// context alongside the process-wide Go collector metrics.
type HostSampler struct {
	logger *logrus.Logger
}

// NewHostSampler builds a HostSampler.
func NewHostSampler(logger *logrus.Logger) *HostSampler {
	return &HostSampler{logger: logger}
}

// Start samples host resource usage every interval until ctx is done.
func (h *HostSampler) Start(ctx context.Context, interval time.Duration) {
	h.sample()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.sample()
			}
		}
	}()
}

func (h *HostSampler) sample() {
	if percentages, err := cpu.Percent(0, false); err != nil {
		h.logger.WithError(err).Warn("host sampler: failed to read CPU usage")
	} else if len(percentages) > 0 {
		hostCPUPercent.Set(percentages[0])
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		h.logger.WithError(err).Warn("host sampler: failed to read memory usage")
	} else {
		hostMemoryUsedBytes.Set(float64(vm.Used))
		hostMemoryTotalBytes.Set(float64(vm.Total))
	}
}
