package consumer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"signalflow/config"
	"signalflow/models"
)

type fakeProvider struct {
	mu       sync.Mutex
	contexts map[string]*models.IntentContext
	err      error
}

func (p *fakeProvider) BuildContext(mint string, windowMinutes int) (*models.IntentContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if ctx, ok := p.contexts[mint]; ok {
		return ctx, nil
	}
	return &models.IntentContext{Mint: mint, WindowMinutes: windowMinutes}, nil
}

type fakeExecutor struct {
	mu    sync.Mutex
	name  string
	calls []Order
	err   error
}

func (e *fakeExecutor) Name() string { return e.name }

func (e *fakeExecutor) Execute(_ context.Context, order Order) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, order)
	if e.err != nil {
		return nil, e.err
	}
	return map[string]interface{}{"tx": "sig"}, nil
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func testRegistry(ex Executor) *Registry {
	r := NewRegistry()
	r.Register(models.IntentKindToken, ex)
	r.Register(models.IntentKindNFT, ex)
	return r
}

func testConfig(dir string, execute bool) config.ConsumerConfig {
	return config.ConsumerConfig{
		Dir:            dir,
		PollInterval:   5 * time.Millisecond,
		ExecuteEnabled: execute,
		WindowMinutes:  60,
	}
}

func appendIntent(t *testing.T, dir string, intent map[string]interface{}) {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(dir, intentsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open intents: %v", err)
	}
	defer f.Close()
	data, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		t.Fatalf("append intent: %v", err)
	}
}

func appendRawLine(t *testing.T, dir, line string) {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(dir, intentsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open intents: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatalf("append line: %v", err)
	}
}

func readOutcomes(t *testing.T, dir string) []models.OutcomeRecord {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, executedFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("open executed: %v", err)
	}
	defer f.Close()
	var out []models.OutcomeRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec models.OutcomeRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal outcome: %v", err)
		}
		out = append(out, rec)
	}
	return out
}

func readErrors(t *testing.T, dir string) []models.ErrorRecord {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, errorsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("open errors: %v", err)
	}
	defer f.Close()
	var out []models.ErrorRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec models.ErrorRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal error record: %v", err)
		}
		out = append(out, rec)
	}
	return out
}

// drain runs the consumer until cond holds or the deadline passes.
func drain(t *testing.T, c *Consumer, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("consumer run: %v", err)
	}
}

func offsetValue(t *testing.T, dir string) int64 {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, offsetFile))
	if err != nil {
		t.Fatalf("read offset: %v", err)
	}
	var n int64
	if _, err := fmt.Sscan(string(data), &n); err != nil {
		t.Fatalf("parse offset: %v", err)
	}
	return n
}

func TestDryRunRecordsOutcomeWithContextKeys(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeProvider{contexts: map[string]*models.IntentContext{
		"ABC": healthyContext("ABC"),
	}}
	ex := &fakeExecutor{name: "token_router"}
	c, err := NewConsumer(testConfig(dir, false), provider, testRegistry(ex))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	defer c.Close()

	appendIntent(t, dir, map[string]interface{}{"type": "TOKEN", "mode": "BUY", "mint": "ABC"})
	drain(t, c, func() bool { return len(readOutcomes(t, dir)) >= 1 })

	outs := readOutcomes(t, dir)
	rec := outs[0]
	if !rec.DryRun {
		t.Fatal("expected dry_run outcome")
	}
	if rec.Status != models.OutcomeOK || rec.Side != "buy" {
		t.Fatalf("unexpected outcome: %+v", rec)
	}
	if len(rec.CtxKeys) == 0 {
		t.Fatal("expected resolved context keys in dry-run outcome")
	}
	if ex.callCount() != 0 {
		t.Fatalf("dry-run must not reach the executor, got %d calls", ex.callCount())
	}
}

func TestZeroVolumeBlockNeverReachesExecutorButOffsetAdvances(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeProvider{contexts: map[string]*models.IntentContext{
		"DEAD": {Mint: "DEAD", Market: models.MarketContext{OHLCV: []models.Candle{{Volume: 0}}}},
	}}
	ex := &fakeExecutor{name: "token_router"}
	c, err := NewConsumer(testConfig(dir, true), provider, testRegistry(ex))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	defer c.Close()

	appendIntent(t, dir, map[string]interface{}{"type": "TOKEN", "mode": "BUY", "mint": "DEAD"})
	drain(t, c, func() bool { return len(readOutcomes(t, dir)) >= 1 })

	rec := readOutcomes(t, dir)[0]
	if rec.Status != models.OutcomeBlocked || rec.Reason != ReasonZeroVolume {
		t.Fatalf("expected zero-volume block, got %+v", rec)
	}
	if ex.callCount() != 0 {
		t.Fatal("blocked intent must not reach the executor")
	}
	if offsetValue(t, dir) == 0 {
		t.Fatal("offset must advance past a blocked record")
	}
}

func TestLiquidityFlagBlockAndOkPath(t *testing.T) {
	dir := t.TempDir()
	locked := healthyContext("LOCKED")
	locked.Market.LiquidityFlags = &models.LiquidityFlags{Locked: true}
	provider := &fakeProvider{contexts: map[string]*models.IntentContext{
		"LOCKED": locked,
		"GOOD":   healthyContext("GOOD"),
	}}
	ex := &fakeExecutor{name: "token_router"}
	c, err := NewConsumer(testConfig(dir, true), provider, testRegistry(ex))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	defer c.Close()

	appendIntent(t, dir, map[string]interface{}{"type": "TOKEN", "mode": "BUY", "mint": "LOCKED"})
	appendIntent(t, dir, map[string]interface{}{"type": "TOKEN", "mode": "SELL", "mint": "GOOD"})
	drain(t, c, func() bool { return len(readOutcomes(t, dir)) >= 2 })

	outs := readOutcomes(t, dir)
	if outs[0].Status != models.OutcomeBlocked || outs[0].Reason != ReasonLiquidityFlags {
		t.Fatalf("expected liquidity flag block, got %+v", outs[0])
	}
	if outs[1].Status != models.OutcomeOK || outs[1].Executor != "token_router" || outs[1].Side != "sell" {
		t.Fatalf("expected executed outcome, got %+v", outs[1])
	}
	if ex.callCount() != 1 {
		t.Fatalf("expected exactly one executor call, got %d", ex.callCount())
	}
}

func TestReplayFromZeroDuplicatesShareIntentID(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeProvider{contexts: map[string]*models.IntentContext{
		"ABC": healthyContext("ABC"),
	}}
	ex := &fakeExecutor{name: "token_router"}
	cfg := testConfig(dir, true)

	appendIntent(t, dir, map[string]interface{}{"type": "TOKEN", "mode": "BUY", "mint": "ABC"})

	c1, err := NewConsumer(cfg, provider, testRegistry(ex))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	drain(t, c1, func() bool { return ex.callCount() >= 1 })
	c1.Close()

	// restart without offset persistence
	if err := os.Remove(filepath.Join(dir, offsetFile)); err != nil {
		t.Fatalf("remove offset: %v", err)
	}
	c2, err := NewConsumer(cfg, provider, testRegistry(ex))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	drain(t, c2, func() bool { return ex.callCount() >= 2 })
	c2.Close()

	outs := readOutcomes(t, dir)
	if len(outs) != 2 {
		t.Fatalf("expected 2 outcome rows, got %d", len(outs))
	}
	if outs[0].IntentID == "" || outs[0].IntentID != outs[1].IntentID {
		t.Fatalf("replayed intent must keep the same id: %q vs %q", outs[0].IntentID, outs[1].IntentID)
	}
}

func TestCleanRestartProducesNoDuplicateCalls(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeProvider{contexts: map[string]*models.IntentContext{
		"ABC": healthyContext("ABC"),
	}}
	ex := &fakeExecutor{name: "token_router"}
	cfg := testConfig(dir, true)

	appendIntent(t, dir, map[string]interface{}{"type": "TOKEN", "mode": "BUY", "mint": "ABC"})
	appendIntent(t, dir, map[string]interface{}{"type": "TOKEN", "mode": "SELL", "mint": "ABC"})

	c1, err := NewConsumer(cfg, provider, testRegistry(ex))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	drain(t, c1, func() bool { return ex.callCount() >= 2 })
	c1.Close()

	c2, err := NewConsumer(cfg, provider, testRegistry(ex))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c2.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("consumer run: %v", err)
	}
	c2.Close()

	if ex.callCount() != 2 {
		t.Fatalf("clean restart must not replay, got %d calls", ex.callCount())
	}
}

func TestMalformedLineWritesErrorAndProcessingContinues(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeProvider{contexts: map[string]*models.IntentContext{
		"ABC": healthyContext("ABC"),
	}}
	ex := &fakeExecutor{name: "token_router"}
	c, err := NewConsumer(testConfig(dir, true), provider, testRegistry(ex))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	defer c.Close()

	appendRawLine(t, dir, "{not json")
	appendIntent(t, dir, map[string]interface{}{"type": "TOKEN", "mode": "BUY", "mint": "ABC"})
	drain(t, c, func() bool { return ex.callCount() >= 1 })

	errs := readErrors(t, dir)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error record, got %d", len(errs))
	}
	if errs[0].Line != "{not json" {
		t.Fatalf("error record must carry the offending line, got %q", errs[0].Line)
	}
}

func TestMissingBackendRecordedAsErrorOffsetAdvances(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeProvider{contexts: map[string]*models.IntentContext{
		"ABC": healthyContext("ABC"),
	}}
	ex := &fakeExecutor{name: "token_router"}
	tokenOnly := NewRegistry()
	tokenOnly.Register(models.IntentKindToken, ex)
	c, err := NewConsumer(testConfig(dir, true), provider, tokenOnly)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	defer c.Close()

	appendIntent(t, dir, map[string]interface{}{"type": "NFT", "mode": "BUY", "mint": "ABC"})
	drain(t, c, func() bool { return len(readErrors(t, dir)) >= 1 })

	if ex.callCount() != 0 {
		t.Fatal("an intent kind without a back-end must not reach another kind's executor")
	}
	if offsetValue(t, dir) == 0 {
		t.Fatal("offset must advance past a failed record")
	}
}

func TestExecutorFailureRecordedTruncated(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeProvider{contexts: map[string]*models.IntentContext{
		"ABC": healthyContext("ABC"),
	}}
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	ex := &fakeExecutor{name: "token_router", err: errors.New(string(long))}
	c, err := NewConsumer(testConfig(dir, true), provider, testRegistry(ex))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	defer c.Close()

	appendIntent(t, dir, map[string]interface{}{"type": "TOKEN", "mode": "BUY", "mint": "ABC"})
	drain(t, c, func() bool { return len(readErrors(t, dir)) >= 1 })

	rec := readErrors(t, dir)[0]
	if len(rec.Error) != maxErrorLen {
		t.Fatalf("expected error truncated to %d chars, got %d", maxErrorLen, len(rec.Error))
	}
	if rec.IntentID == "" {
		t.Fatal("error record should carry the intent id")
	}
}

func TestOutcomeJournalFailureFallsBackToErrorJournal(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeProvider{contexts: map[string]*models.IntentContext{
		"ABC": healthyContext("ABC"),
	}}
	ex := &fakeExecutor{name: "token_router"}
	c, err := NewConsumer(testConfig(dir, false), provider, testRegistry(ex))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	// make the executed journal unwritable while errors stays healthy
	c.executed.Close()

	appendIntent(t, dir, map[string]interface{}{"type": "TOKEN", "mode": "BUY", "mint": "ABC"})
	drain(t, c, func() bool { return len(readErrors(t, dir)) >= 1 })
	defer c.Close()

	errs := readErrors(t, dir)
	if errs[0].IntentID == "" {
		t.Fatal("fallback error record should carry the intent id")
	}
	if !strings.Contains(errs[0].Error, "append outcome journal") {
		t.Fatalf("error record should name the journal failure, got %q", errs[0].Error)
	}
	if offsetValue(t, dir) == 0 {
		t.Fatal("offset must advance once the record is durable in the error journal")
	}
}

func TestUnwritableJournalsStopBeforeOffsetAdvances(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeProvider{contexts: map[string]*models.IntentContext{
		"ABC": healthyContext("ABC"),
	}}
	ex := &fakeExecutor{name: "token_router"}
	c, err := NewConsumer(testConfig(dir, false), provider, testRegistry(ex))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	c.executed.Close()
	c.errors.Close()

	appendIntent(t, dir, map[string]interface{}{"type": "TOKEN", "mode": "BUY", "mint": "ABC"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Run(ctx); err == nil {
		t.Fatal("expected fatal error when no journal is writable")
	}
	if _, err := os.Stat(filepath.Join(dir, offsetFile)); !os.IsNotExist(err) {
		t.Fatal("offset must not advance past a record that was never journaled")
	}
}

func TestRegistryValidateAndResolveOrder(t *testing.T) {
	r := NewRegistry()
	if err := r.Validate(models.IntentKindToken); err == nil {
		t.Fatal("expected validation error for empty registry")
	}

	first := &fakeExecutor{name: "primary"}
	second := &fakeExecutor{name: "fallback"}
	r.Register(models.IntentKindToken, first)
	r.Register(models.IntentKindToken, second)
	if err := r.Validate(models.IntentKindToken); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := r.Validate(models.IntentKindToken, models.IntentKindNFT); err == nil {
		t.Fatal("expected validation error for unregistered NFT kind")
	}

	ex, err := r.Resolve("token")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ex.Name() != "primary" {
		t.Fatalf("expected first registered executor to win, got %s", ex.Name())
	}
}
