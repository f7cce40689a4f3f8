package feedhealth

import (
	"testing"
	"time"
)

// fixedClock lets tests drive the monitor's notion of now.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time {
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestMonitor(stall time.Duration) (*Monitor, *fixedClock) {
	m := NewMonitor(stall, 10, 100)
	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	m.now = clock.now
	return m, clock
}

func TestStalledBeforeAnyActivity(t *testing.T) {
	m, _ := newTestMonitor(5 * time.Second)
	snap := m.Snapshot()
	if !snap.Stalled {
		t.Fatalf("monitor with no activity should report stalled")
	}
	if snap.StallSeconds != 0 {
		t.Errorf("stall seconds should be 0 before first activity, got %f", snap.StallSeconds)
	}
}

func TestStalledThreshold(t *testing.T) {
	m, clock := newTestMonitor(5 * time.Second)

	m.RecordPacket(0)
	if snap := m.Snapshot(); snap.Stalled {
		t.Fatalf("fresh packet should not be stalled")
	}

	clock.advance(4 * time.Second)
	if snap := m.Snapshot(); snap.Stalled {
		t.Fatalf("4s staleness below 5s threshold should not be stalled")
	}

	clock.advance(time.Second)
	snap := m.Snapshot()
	if !snap.Stalled {
		t.Fatalf("5s staleness should be stalled")
	}
	if snap.StallSeconds < 5 {
		t.Errorf("unexpected stall seconds: %f", snap.StallSeconds)
	}
}

func TestHeartbeatResetsStaleness(t *testing.T) {
	m, clock := newTestMonitor(5 * time.Second)

	m.RecordPacket(0)
	clock.advance(10 * time.Second)
	if snap := m.Snapshot(); !snap.Stalled {
		t.Fatalf("expected stalled after 10s silence")
	}

	// An event heartbeat alone revives the pipeline even without packets.
	m.RecordEventHeartbeat()
	snap := m.Snapshot()
	if snap.Stalled {
		t.Fatalf("heartbeat should reset staleness")
	}
	if snap.StallSeconds != 0 {
		t.Errorf("stall seconds should reset to 0, got %f", snap.StallSeconds)
	}
}

func TestPacketRateWindow(t *testing.T) {
	m, clock := newTestMonitor(time.Minute)

	for i := 0; i < 20; i++ {
		m.RecordPacket(0)
	}
	snap := m.Snapshot()
	if snap.PacketsInWindow != 20 {
		t.Fatalf("expected 20 packets in window, got %d", snap.PacketsInWindow)
	}
	if snap.PacketsPerSecond != 2.0 {
		t.Errorf("expected 2 pps over 10s window, got %f", snap.PacketsPerSecond)
	}

	// Old packets fall out of the window; totals are retained.
	clock.advance(11 * time.Second)
	snap = m.Snapshot()
	if snap.PacketsInWindow != 0 {
		t.Errorf("window should be empty after 11s, got %d", snap.PacketsInWindow)
	}
	if snap.PacketsTotal != 20 {
		t.Errorf("total should survive window trim, got %d", snap.PacketsTotal)
	}
}

func TestRecordPacketBoundsWindowWithoutSnapshot(t *testing.T) {
	m, clock := newTestMonitor(time.Minute)

	// A steady feed with nobody polling Snapshot must not accumulate
	// timestamps beyond the rate window.
	for i := 0; i < 50; i++ {
		m.RecordPacket(0)
		clock.advance(time.Second)
	}

	m.mu.Lock()
	held := len(m.window)
	m.mu.Unlock()
	if held > m.windowSeconds+1 {
		t.Fatalf("window grew to %d entries over a %ds window", held, m.windowSeconds)
	}

	snap := m.Snapshot()
	if snap.PacketsTotal != 50 {
		t.Errorf("total should survive window trim, got %d", snap.PacketsTotal)
	}
}

func TestDecodeLatencyStats(t *testing.T) {
	m, _ := newTestMonitor(time.Minute)

	for i := 1; i <= 100; i++ {
		m.RecordPacket(time.Duration(i) * time.Millisecond)
	}
	snap := m.Snapshot()
	if snap.DecodeLatencyAvg != 50500*time.Microsecond {
		t.Errorf("unexpected avg latency: %v", snap.DecodeLatencyAvg)
	}
	if snap.DecodeLatencyP95 != 95*time.Millisecond {
		t.Errorf("unexpected p95 latency: %v", snap.DecodeLatencyP95)
	}
}

func TestErrorAndBacklogCounters(t *testing.T) {
	m, _ := newTestMonitor(time.Minute)
	m.RecordError()
	m.RecordError()
	m.UpdateBacklogLag(3.5)
	m.UpdateBacklogLag(-1)

	snap := m.Snapshot()
	if snap.Errors != 2 {
		t.Errorf("expected 2 errors, got %d", snap.Errors)
	}
	if snap.BacklogLagSeconds != 0 {
		t.Errorf("negative lag should clamp to 0, got %f", snap.BacklogLagSeconds)
	}
}
