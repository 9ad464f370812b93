// Package metrics collects host resource utilization reported in every
// agent:heartbeat frame.
package metrics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/onsembl/onsembl/shared/protocol"
)

// Collector samples cpu% and memory usage and derives uptime from
// startedAt. A short cpu.PercentWithContext sampling window is used rather
// than the since-boot average, so a brief spike is visible in the next
// heartbeat rather than smoothed away.
type Collector struct {
	startedAt time.Time
}

// New constructs a Collector; startedAt should be the time the agent
// process began running, used to compute uptimeSeconds.
func New(startedAt time.Time) *Collector {
	return &Collector{startedAt: startedAt}
}

// Collect samples current CPU and memory usage. Commands-processed and
// average-response-time are left zero here. The caller (wsclient) fills in
// commands-processed from its own counter before sending the heartbeat;
// average-response-time is not tracked and is always sent as zero.
func (c *Collector) Collect(ctx context.Context) protocol.HealthMetrics {
	hm := protocol.HealthMetrics{
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
	}

	sampleCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if pcts, err := cpu.PercentWithContext(sampleCtx, 200*time.Millisecond, false); err == nil && len(pcts) > 0 {
		hm.CPUPercent = pcts[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hm.MemoryBytes = vm.Used
	}

	return hm
}
