package feedhealth

import (
	"context"
	"sort"
	"sync"
	"time"

	"signalflow/logger"
)

const (
	// DefaultStallThreshold is how long the feed may be silent before the
	// pipeline is considered stalled.
	DefaultStallThreshold = 5 * time.Second
	// DefaultWindowSeconds is the sliding window the packet rate is
	// computed over.
	DefaultWindowSeconds = 10
	// DefaultMaxLatencySamples bounds the decode latency sample set.
	DefaultMaxLatencySamples = 500
)

// Snapshot is the recomputed-on-demand health view. Stalled is derived from
// the most recent activity on either the raw packet path or the decoded
// event path; it is never stored.
type Snapshot struct {
	LastPacketTime    time.Time     `json:"last_packet_time"`
	LastEventTime     time.Time     `json:"last_event_time"`
	PacketsTotal      int64         `json:"packets_total"`
	PacketsInWindow   int           `json:"packets_in_window"`
	PacketsPerSecond  float64       `json:"packets_per_second"`
	DecodeLatencyAvg  time.Duration `json:"decode_latency_avg"`
	DecodeLatencyP95  time.Duration `json:"decode_latency_p95"`
	Stalled           bool          `json:"stalled"`
	StallSeconds      float64       `json:"stall_seconds"`
	BacklogLagSeconds float64       `json:"backlog_lag_seconds"`
	Errors            int64         `json:"errors"`
}

// Sink receives periodic health snapshots from the self-check loop. It is
// pure reporting: a sink must not feed anything back into the monitor.
type Sink func(Snapshot)

// Monitor turns raw arrival timestamps into a liveness signal for the
// primary ingestion path.
type Monitor struct {
	stallThreshold time.Duration
	windowSeconds  int
	maxSamples     int

	mu            sync.Mutex
	lastPacket    time.Time
	lastEvent     time.Time
	packetsTotal  int64
	window        []time.Time
	latencies     []time.Duration
	latencyCursor int
	latencyFull   bool
	backlogLag    float64
	errors        int64

	log *logger.Log
	now func() time.Time
}

// NewMonitor constructs a monitor; non-positive arguments use the defaults.
func NewMonitor(stallThreshold time.Duration, windowSeconds, maxLatencySamples int) *Monitor {
	if stallThreshold <= 0 {
		stallThreshold = DefaultStallThreshold
	}
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	if maxLatencySamples <= 0 {
		maxLatencySamples = DefaultMaxLatencySamples
	}
	return &Monitor{
		stallThreshold: stallThreshold,
		windowSeconds:  windowSeconds,
		maxSamples:     maxLatencySamples,
		latencies:      make([]time.Duration, maxLatencySamples),
		log:            logger.GetLogger(),
		now:            time.Now,
	}
}

// RecordPacket is called once per raw unit received from the primary feed.
// A zero decodeLatency records arrival without a latency sample.
func (m *Monitor) RecordPacket(decodeLatency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.packetsTotal == 0 {
		m.log.WithComponent("feed_health").Info("first packet received, firehose is alive")
	}
	m.packetsTotal++
	m.lastPacket = now
	m.window = append(m.window, now)
	m.trimWindowLocked(now)
	if decodeLatency > 0 {
		m.latencies[m.latencyCursor] = decodeLatency
		m.latencyCursor++
		if m.latencyCursor == m.maxSamples {
			m.latencyCursor = 0
			m.latencyFull = true
		}
	}
}

// RecordEventHeartbeat is called once a decoded unit has been routed to the
// bus. This is the authoritative end-to-end liveness signal; a feed can
// emit packets that never decode into events.
func (m *Monitor) RecordEventHeartbeat() {
	m.mu.Lock()
	m.lastEvent = m.now()
	m.mu.Unlock()
}

// RecordError counts a decode or routing failure.
func (m *Monitor) RecordError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

// UpdateBacklogLag records how far behind the feed is, in seconds.
func (m *Monitor) UpdateBacklogLag(lagSeconds float64) {
	m.mu.Lock()
	if lagSeconds < 0 {
		lagSeconds = 0
	}
	m.backlogLag = lagSeconds
	m.mu.Unlock()
}

// Snapshot recomputes and returns the current health view.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.trimWindowLocked(now)

	snap := Snapshot{
		LastPacketTime:    m.lastPacket,
		LastEventTime:     m.lastEvent,
		PacketsTotal:      m.packetsTotal,
		PacketsInWindow:   len(m.window),
		PacketsPerSecond:  float64(len(m.window)) / float64(m.windowSeconds),
		BacklogLagSeconds: m.backlogLag,
		Errors:            m.errors,
	}

	lastActivity := m.lastPacket
	if m.lastEvent.After(lastActivity) {
		lastActivity = m.lastEvent
	}
	if lastActivity.IsZero() {
		// No activity recorded yet. Report stalled so the watchdog (after
		// its boot grace) reacts to a feed that never came up at all.
		snap.Stalled = true
	} else {
		stall := now.Sub(lastActivity)
		if stall < 0 {
			stall = 0
		}
		snap.StallSeconds = stall.Seconds()
		snap.Stalled = stall >= m.stallThreshold
	}

	snap.DecodeLatencyAvg, snap.DecodeLatencyP95 = m.latencyStats()
	return snap
}

// trimWindowLocked drops packet timestamps that have fallen out of the rate
// window. Invoked on every record as well as every snapshot so the window
// stays bounded even when no self-check loop is running. Caller holds the
// mutex.
func (m *Monitor) trimWindowLocked(now time.Time) {
	windowStart := now.Add(-time.Duration(m.windowSeconds) * time.Second)
	trim := 0
	for trim < len(m.window) && m.window[trim].Before(windowStart) {
		trim++
	}
	if trim > 0 {
		m.window = m.window[trim:]
	}
}

// latencyStats computes avg and p95 over the recorded samples. Caller holds
// the mutex.
func (m *Monitor) latencyStats() (avg, p95 time.Duration) {
	n := m.latencyCursor
	if m.latencyFull {
		n = m.maxSamples
	}
	if n == 0 {
		return 0, 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, m.latencies[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	idx := int(0.95*float64(n)) - 1
	if idx < 0 {
		idx = 0
	}
	return sum / time.Duration(n), sorted[idx]
}

// Run is the periodic self-check loop: it recomputes metrics, logs stalls
// and forwards the snapshot to the optional sink. It never mutates health
// state and exits only on context cancellation.
func (m *Monitor) Run(ctx context.Context, pollEvery time.Duration, sink Sink) {
	if pollEvery <= 0 {
		pollEvery = time.Second
	}
	log := m.log.WithComponent("feed_health")
	log.Info("feed health monitor started")

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("feed health monitor stopped")
			return
		case <-ticker.C:
			snap := m.Snapshot()
			if snap.Stalled {
				log.WithFields(logger.Fields{
					"stall_seconds": snap.StallSeconds,
					"pps":           snap.PacketsPerSecond,
					"backlog_lag_s": snap.BacklogLagSeconds,
				}).Warn("primary feed stalled")
			}
			if sink != nil {
				sink(snap)
			}
		}
	}
}
