package watchdog

import (
	"context"
	"sync"
	"time"

	"signalflow/internal/alert"
	"signalflow/internal/feedhealth"
	"signalflow/logger"
)

const (
	// DefaultInterval is the watchdog poll cadence.
	DefaultInterval = 30 * time.Second
	// DefaultBootGrace is how long after start no transition is evaluated,
	// regardless of health.
	DefaultBootGrace = 90 * time.Second
	// DefaultSettleDelay is the pause between alerting and starting the
	// backup ingestion path.
	DefaultSettleDelay = 5 * time.Second
)

// Mode is the watchdog state.
type Mode int

const (
	PrimaryOnly Mode = iota
	BackupActive
)

func (m Mode) String() string {
	if m == BackupActive {
		return "backup_active"
	}
	return "primary_only"
}

// Task is a running backup ingestion path. Done is closed once the task has
// fully exited after cancellation.
type Task interface {
	Done() <-chan struct{}
}

// Starter launches the backup ingestion path under the given context.
type Starter func(ctx context.Context) (Task, error)

// BackupModeSetter flips the endpoint pool rotation cadence; implemented by
// endpoint.Pool.
type BackupModeSetter interface {
	SetBackupMode(active bool)
}

// Watchdog polls feed health and drives the primary→backup failover state
// machine. On stall it alerts, waits a settle delay, then starts the backup
// task; once the primary recovers it cancels the backup cooperatively and
// awaits its exit before returning to primary-only.
type Watchdog struct {
	health   func() feedhealth.Snapshot
	start    Starter
	notifier alert.Notifier
	backup   BackupModeSetter

	interval    time.Duration
	bootGrace   time.Duration
	settleDelay time.Duration

	mu           sync.Mutex
	mode         Mode
	backupTask   Task
	backupCancel context.CancelFunc

	log *logger.Log
	now func() time.Time
}

// New wires a watchdog. notifier and backup may be nil. Non-positive
// durations use the defaults.
func New(health func() feedhealth.Snapshot, start Starter, notifier alert.Notifier, backup BackupModeSetter, interval, bootGrace, settleDelay time.Duration) *Watchdog {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if bootGrace < 0 {
		bootGrace = DefaultBootGrace
	}
	if settleDelay < 0 {
		settleDelay = DefaultSettleDelay
	}
	return &Watchdog{
		health:      health,
		start:       start,
		notifier:    notifier,
		backup:      backup,
		interval:    interval,
		bootGrace:   bootGrace,
		settleDelay: settleDelay,
		mode:        PrimaryOnly,
		log:         logger.GetLogger(),
		now:         time.Now,
	}
}

// Mode returns the current state.
func (w *Watchdog) Mode() Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Run polls until the context is cancelled. A failing step never exits the
// loop; it is logged and retried on the next tick.
func (w *Watchdog) Run(ctx context.Context) {
	log := w.log.WithComponent("watchdog")
	log.Info("failover watchdog started")

	boot := w.now()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.stopBackup(log)
			log.Info("failover watchdog stopped")
			return
		case <-ticker.C:
			if w.now().Sub(boot) < w.bootGrace {
				continue
			}
			w.Step(ctx)
		}
	}
}

// Step evaluates the state machine once. Exposed for tests; Run calls it on
// every tick past the boot grace.
func (w *Watchdog) Step(ctx context.Context) {
	log := w.log.WithComponent("watchdog")
	snap := w.health()

	w.mu.Lock()
	mode := w.mode
	w.mu.Unlock()

	switch {
	case snap.Stalled && mode == PrimaryOnly:
		log.WithFields(logger.Fields{
			"stall_seconds": snap.StallSeconds,
		}).Warn("primary feed appears stalled")
		w.notify(ctx, "primary feed stalled; activating backup ingestion")

		// Settle pause before failing over: brief stalls often recover on
		// their own and a spurious backup start churns the endpoint pool.
		select {
		case <-time.After(w.settleDelay):
		case <-ctx.Done():
			return
		}
		w.startBackup(ctx, log)

	case !snap.Stalled && mode == BackupActive:
		log.Info("primary feed recovered, shutting down backup ingestion")
		w.stopBackup(log)
		w.notify(ctx, "primary feed recovered; backup ingestion stopped")

	default:
		// Health matches the current mode.
	}
}

// startBackup launches the backup task and transitions to BackupActive.
// Starting while a previous task has not finished cancelling is a no-op.
func (w *Watchdog) startBackup(ctx context.Context, log *logger.Entry) {
	w.mu.Lock()
	if w.backupTask != nil {
		select {
		case <-w.backupTask.Done():
			// previous task fully exited, safe to replace
		default:
			w.mu.Unlock()
			log.Info("backup ingestion already running")
			return
		}
	}
	w.mu.Unlock()

	backupCtx, cancel := context.WithCancel(ctx)
	task, err := w.start(backupCtx)
	if err != nil {
		cancel()
		log.WithError(err).Error("failed to start backup ingestion")
		return
	}

	w.mu.Lock()
	w.backupTask = task
	w.backupCancel = cancel
	w.mode = BackupActive
	w.mu.Unlock()

	if w.backup != nil {
		w.backup.SetBackupMode(true)
	}
	log.Warn("backup ingestion started")
}

// stopBackup cancels the backup task, waits for its confirmed exit and
// transitions back to PrimaryOnly.
func (w *Watchdog) stopBackup(log *logger.Entry) {
	w.mu.Lock()
	task := w.backupTask
	cancel := w.backupCancel
	w.backupTask = nil
	w.backupCancel = nil
	w.mode = PrimaryOnly
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if task != nil {
		<-task.Done()
		log.Info("backup ingestion stopped")
	}
	if w.backup != nil {
		w.backup.SetBackupMode(false)
	}
}

func (w *Watchdog) notify(ctx context.Context, message string) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Notify(ctx, message); err != nil {
		w.log.WithComponent("watchdog").WithError(err).Warn("failed to send alert")
	}
}
