package consumer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"signalflow/config"
	"signalflow/logger"
	"signalflow/models"
	"signalflow/writer"
)

const (
	intentsFile  = "intents.jsonl"
	executedFile = "executed.jsonl"
	errorsFile   = "errors.jsonl"
	offsetFile   = ".intents.offset"

	maxErrorLen = 400
	maxLineLen  = 800
)

// Archiver receives processed outcome rows. Offer must never block.
type Archiver interface {
	Offer(models.OutcomeRecord)
}

// Consumer drains the durable intent journal at a persisted byte
// offset. Each line goes through hash assignment, context resolution,
// the preflight gate and executor dispatch (or dry-run), and every
// outcome lands in an append-only journal before the offset advances.
// A single bad record is logged and skipped; the loop stops only when
// a record cannot be durably journaled anywhere or the offset persist
// fails.
type Consumer struct {
	cfg      config.ConsumerConfig
	provider ContextProvider
	registry *Registry
	executed *writer.Journal
	errors   *writer.Journal
	offsets  *writer.OffsetStore
	archiver Archiver
	log      *logger.Log
	now      func() time.Time
}

// NewConsumer opens the journal files under cfg.Dir. Registry
// completeness is checked by the caller at startup via
// Registry.Validate; a kind left without a back-end surfaces as a
// recorded per-intent error, not a crash.
func NewConsumer(cfg config.ConsumerConfig, provider ContextProvider, registry *Registry) (*Consumer, error) {
	executed, err := writer.OpenJournal(filepath.Join(cfg.Dir, executedFile))
	if err != nil {
		return nil, err
	}
	errs, err := writer.OpenJournal(filepath.Join(cfg.Dir, errorsFile))
	if err != nil {
		executed.Close()
		return nil, err
	}
	return &Consumer{
		cfg:      cfg,
		provider: provider,
		registry: registry,
		executed: executed,
		errors:   errs,
		offsets:  writer.NewOffsetStore(filepath.Join(cfg.Dir, offsetFile)),
		log:      logger.GetLogger(),
		now:      time.Now,
	}, nil
}

// SetArchiver attaches an optional outcome archiver.
func (c *Consumer) SetArchiver(a Archiver) { c.archiver = a }

// Close closes the outcome journals.
func (c *Consumer) Close() {
	c.executed.Close()
	c.errors.Close()
}

// Run tails the intent journal until ctx is cancelled. It seeks to the
// persisted offset, polls for new complete lines, and persists the new
// offset only after the line's outcome has been durably recorded in
// either journal. An offset persist failure is fatal since continuing
// would risk double execution after restart; a line whose outcome
// cannot be journaled at all is fatal for the same reason, the record
// would otherwise vanish while the offset moves past it.
func (c *Consumer) Run(ctx context.Context) error {
	path := filepath.Join(c.cfg.Dir, intentsFile)
	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create orders dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open intent journal: %w", err)
	}
	defer f.Close()

	offset, err := c.offsets.Load()
	if err != nil {
		return fmt.Errorf("load offset: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek intent journal: %w", err)
	}
	reader := bufio.NewReader(f)

	c.log.WithComponent("intent_consumer").WithFields(logger.Fields{
		"path":            path,
		"offset":          offset,
		"execute_enabled": c.cfg.ExecuteEnabled,
	}).Info("intent consumer started")

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				return fmt.Errorf("read intent journal: %w", err)
			}
			// partial trailing line; rewind and retry once the
			// producer finishes it
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				return fmt.Errorf("seek intent journal: %w", err)
			}
			reader.Reset(f)
			select {
			case <-ctx.Done():
				c.log.WithComponent("intent_consumer").Info("intent consumer stopped")
				return nil
			case <-time.After(c.cfg.PollInterval):
			}
			continue
		}

		if err := c.process(ctx, line); err != nil {
			return err
		}
		offset += int64(len(line))
		if err := c.offsets.Store(offset); err != nil {
			return fmt.Errorf("persist offset: %w", err)
		}
		logger.IncrementIntentDrained()

		select {
		case <-ctx.Done():
			c.log.WithComponent("intent_consumer").Info("intent consumer stopped")
			return nil
		default:
		}
	}
}

// process handles one journal line and returns an error only when its
// outcome could be recorded in neither journal.
func (c *Consumer) process(ctx context.Context, line []byte) error {
	start := c.now()

	intent, err := models.ParseIntent(line)
	if err != nil {
		return c.recordError("", err, line)
	}
	id := intent.EnsureID()

	ictx, err := c.provider.BuildContext(intent.Mint(), c.cfg.WindowMinutes)
	if err != nil {
		return c.recordError(id, fmt.Errorf("build context: %w", err), line)
	}

	rec := models.OutcomeRecord{
		Timestamp: start.UTC(),
		IntentID:  id,
		Kind:      intent.Kind(),
		Mint:      intent.Mint(),
		Mode:      intent.Mode(),
		Side:      intent.Side(),
	}

	if ok, reason := Preflight(ictx); !ok {
		rec.Status = models.OutcomeBlocked
		rec.Reason = reason
		return c.recordOutcome(rec, line)
	}

	if !c.cfg.ExecuteEnabled {
		rec.Status = models.OutcomeOK
		rec.Reason = ReasonOK
		rec.DryRun = true
		rec.CtxKeys = ictx.Keys()
		rec.Notes = "execution disabled; logged only"
		rec.LatencyMS = c.now().Sub(start).Milliseconds()
		return c.recordOutcome(rec, line)
	}

	ex, err := c.registry.Resolve(intent.Kind())
	if err != nil {
		return c.recordError(id, err, line)
	}
	result, err := ex.Execute(ctx, Order{
		Mint:    intent.Mint(),
		Side:    intent.Side(),
		Mode:    intent.Mode(),
		Context: ictx,
	})
	if err != nil {
		return c.recordError(id, fmt.Errorf("executor %s: %w", ex.Name(), err), line)
	}

	rec.Status = models.OutcomeOK
	rec.Reason = ReasonOK
	rec.Executor = ex.Name()
	rec.Result = result
	rec.LatencyMS = c.now().Sub(start).Milliseconds()
	return c.recordOutcome(rec, line)
}

// recordOutcome lands rec in the executed journal. If that journal is
// unwritable the line falls back to the error journal so it is never
// lost before the offset advances past it.
func (c *Consumer) recordOutcome(rec models.OutcomeRecord, line []byte) error {
	if err := c.executed.Append(rec); err != nil {
		c.log.WithComponent("intent_consumer").WithError(err).Error("append outcome journal failed")
		return c.recordError(rec.IntentID, fmt.Errorf("append outcome journal: %w", err), line)
	}
	if c.archiver != nil {
		c.archiver.Offer(rec)
	}
	entry := c.log.WithComponent("intent_consumer").WithFields(logger.Fields{
		"intent_id": rec.IntentID,
		"status":    rec.Status,
		"reason":    rec.Reason,
		"dry_run":   rec.DryRun,
	})
	if rec.Status == models.OutcomeBlocked {
		entry.Warn("intent blocked by preflight")
	} else {
		entry.Info("intent processed")
	}
	return nil
}

// recordError journals a processing failure. The returned error is
// non-nil only when the error journal itself cannot be written, which
// the caller treats as fatal: without a durable row the offset must
// not advance.
func (c *Consumer) recordError(id string, procErr error, line []byte) error {
	rec := models.ErrorRecord{
		Timestamp: c.now().UTC(),
		IntentID:  id,
		Error:     truncate(procErr.Error(), maxErrorLen),
		Line:      truncate(string(bytes.TrimSpace(line)), maxLineLen),
	}
	if err := c.errors.Append(rec); err != nil {
		c.log.WithComponent("intent_consumer").WithError(err).Error("append error journal failed")
		return fmt.Errorf("append error journal: %w", err)
	}
	c.log.WithComponent("intent_consumer").WithError(procErr).WithFields(logger.Fields{
		"intent_id": id,
	}).Error("intent processing failed")
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
