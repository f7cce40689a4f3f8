package endpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signalflow/internal/alert"
	"signalflow/logger"
)

const (
	// DefaultMonitorInterval is how often the pool monitor re-checks
	// cooldown state.
	DefaultMonitorInterval = 90 * time.Second
	// DefaultAlertCooldown throttles repeated all-endpoints-down alerts.
	DefaultAlertCooldown = 300 * time.Second
)

// Monitor watches a pool and raises a throttled alert when every endpoint
// is in cooldown, which means the backup ingestion path is effectively
// blind until something recovers.
type Monitor struct {
	pool          *Pool
	notifier      alert.Notifier
	interval      time.Duration
	alertCooldown time.Duration

	mu        sync.Mutex
	lastAlert time.Time

	log *logger.Log
	now func() time.Time
}

// NewMonitor wires a monitor to a pool. notifier may be nil, in which case
// alerting degrades to log lines.
func NewMonitor(pool *Pool, notifier alert.Notifier, interval, alertCooldown time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	if alertCooldown <= 0 {
		alertCooldown = DefaultAlertCooldown
	}
	return &Monitor{
		pool:          pool,
		notifier:      notifier,
		interval:      interval,
		alertCooldown: alertCooldown,
		log:           logger.GetLogger(),
		now:           time.Now,
	}
}

// Run polls the pool until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log := m.log.WithComponent("endpoint_monitor")
	log.Info("endpoint monitor loop started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("endpoint monitor loop stopped")
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	log := m.log.WithComponent("endpoint_monitor")

	m.pool.CleanupCooldowns()
	total, cooling := m.pool.Counts()

	if total > 0 && cooling >= total {
		m.mu.Lock()
		now := m.now()
		throttled := now.Sub(m.lastAlert) <= m.alertCooldown
		if !throttled {
			m.lastAlert = now
		}
		m.mu.Unlock()

		if throttled {
			log.Warn("all endpoints in cooldown, alert throttled")
			return
		}

		message := fmt.Sprintf(
			"all endpoints in cooldown (%d/%d); pipeline may degrade until one recovers",
			cooling, total,
		)
		log.WithFields(logger.Fields{"cooling": cooling, "total": total}).Error("all endpoints in cooldown")
		if m.notifier != nil {
			if err := m.notifier.Notify(ctx, message); err != nil {
				log.WithError(err).Warn("failed to send endpoint alert")
			}
		}
		return
	}

	log.WithFields(logger.Fields{
		"available": total - cooling,
		"total":     total,
	}).Debug("endpoint pool healthy")
}
