package alert

import (
	"context"

	"signalflow/logger"
)

// Notifier delivers operator-facing alerts. The production deployment hangs
// a chat transport off this; the pipeline itself only depends on the
// interface.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// LogNotifier writes alerts to the structured log. It is the default when
// no external notifier is configured.
type LogNotifier struct {
	log *logger.Log
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.GetLogger()}
}

func (n *LogNotifier) Notify(_ context.Context, message string) error {
	n.log.WithComponent("alert").Warn(message)
	return nil
}
