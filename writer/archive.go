package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "signalflow/config"
	"signalflow/logger"
	"signalflow/models"
)

// outcomeRecord defines the parquet schema for archived execution
// outcomes. Context keys are joined into a single string column to
// keep the schema flat.
type outcomeRecord struct {
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	IntentID  string  `parquet:"name=intent_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind      string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Mint      string  `parquet:"name=mint, type=BYTE_ARRAY, convertedtype=UTF8"`
	Mode      string  `parquet:"name=mode, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status    string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Reason    string  `parquet:"name=reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	Executor  string  `parquet:"name=executor, type=BYTE_ARRAY, convertedtype=UTF8"`
	DryRun    bool    `parquet:"name=dry_run, type=BOOLEAN"`
	LatencyMS float64 `parquet:"name=latency_ms, type=DOUBLE"`
}

type memFileWriter struct{ buffer *bytes.Buffer }

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// OutcomeArchiver buffers execution outcome records and uploads them
// to S3 in parquet format. Records are flushed periodically or when
// the buffer exceeds the configured batch size. Archiving is best
// effort and never blocks the consumer.
type OutcomeArchiver struct {
	cfg         appconfig.ArchiveConfig
	s3Client    *s3.Client
	buffer      []models.OutcomeRecord
	mu          sync.Mutex
	flushTicker *time.Ticker
	ctx         context.Context
	wg          *sync.WaitGroup
	running     bool
	log         *logger.Log
}

// NewOutcomeArchiver initializes an archiver with AWS credentials.
func NewOutcomeArchiver(cfg appconfig.ArchiveConfig) (*OutcomeArchiver, error) {
	log := logger.GetLogger()
	ctx := context.Background()
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &OutcomeArchiver{
		cfg:      cfg,
		s3Client: s3Client,
		wg:       &sync.WaitGroup{},
		log:      log,
	}, nil
}

// Start launches the flush loop.
func (a *OutcomeArchiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("outcome archiver already running")
	}
	a.running = true
	a.ctx = ctx
	if a.cfg.FlushInterval <= 0 {
		a.cfg.FlushInterval = time.Minute
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 500
	}
	a.flushTicker = time.NewTicker(a.cfg.FlushInterval)
	a.mu.Unlock()

	a.wg.Add(1)
	go a.flushLoop()

	a.log.WithComponent("outcome_archiver").WithFields(logger.Fields{
		"bucket":         a.cfg.Bucket,
		"batch_size":     a.cfg.BatchSize,
		"flush_interval": a.cfg.FlushInterval.String(),
	}).Info("outcome archiver started")
	return nil
}

// Stop flushes remaining records and waits for the loop to exit.
func (a *OutcomeArchiver) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.flushTicker.Stop()
	a.mu.Unlock()

	a.wg.Wait()
	a.flushAll()
	a.log.WithComponent("outcome_archiver").Info("outcome archiver stopped")
}

// Offer appends a record to the buffer. When the buffer reaches the
// batch size the flush happens asynchronously so the caller never
// waits on S3.
func (a *OutcomeArchiver) Offer(rec models.OutcomeRecord) {
	a.mu.Lock()
	a.buffer = append(a.buffer, rec)
	flush := len(a.buffer) >= a.cfg.BatchSize
	a.mu.Unlock()
	if flush {
		go a.flushAll()
	}
}

func (a *OutcomeArchiver) flushLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.flushTicker.C:
			a.flushAll()
		}
	}
}

func (a *OutcomeArchiver) flushAll() {
	a.mu.Lock()
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.buffer
	a.buffer = nil
	a.mu.Unlock()

	data, size, err := a.createParquet(batch)
	if err != nil {
		a.log.WithComponent("outcome_archiver").WithError(err).Error("create parquet failed")
		return
	}
	key := a.s3Key(time.Now().UTC())
	if err := a.upload(key, data); err != nil {
		a.log.WithComponent("outcome_archiver").WithError(err).Error("upload to s3 failed")
		return
	}
	logger.IncrementArchiveWrite(size)
	a.log.WithComponent("outcome_archiver").WithFields(logger.Fields{
		"s3_key":  key,
		"records": len(batch),
		"bytes":   size,
	}).Info("outcome batch uploaded")
}

func (a *OutcomeArchiver) createParquet(batch []models.OutcomeRecord) ([]byte, int64, error) {
	mw := newMemFileWriter()
	pw, err := writer.NewParquetWriter(mw, new(outcomeRecord), 4)
	if err != nil {
		return nil, 0, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, o := range batch {
		rec := outcomeRecord{
			Timestamp: o.Timestamp.UnixMilli(),
			IntentID:  o.IntentID,
			Kind:      o.Kind,
			Mint:      o.Mint,
			Mode:      o.Mode,
			Side:      o.Side,
			Status:    o.Status,
			Reason:    o.Reason,
			Executor:  o.Executor,
			DryRun:    o.DryRun,
			LatencyMS: float64(o.LatencyMS),
		}
		if err := pw.Write(rec); err != nil {
			return nil, 0, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, 0, err
	}
	return mw.Bytes(), int64(len(mw.Bytes())), nil
}

func (a *OutcomeArchiver) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	_, err := a.s3Client.PutObject(a.ctx, input)
	return err
}

func (a *OutcomeArchiver) s3Key(ts time.Time) string {
	parts := []string{
		a.cfg.Prefix,
		fmt.Sprintf("year=%04d", ts.Year()),
		fmt.Sprintf("month=%02d", int(ts.Month())),
		fmt.Sprintf("day=%02d", ts.Day()),
		fmt.Sprintf("hour=%02d", ts.Hour()),
	}
	filename := fmt.Sprintf("outcomes_%d_%s.parquet", ts.UnixNano(), uuid.New().String())
	return filepath.ToSlash(filepath.Join(append(parts, filename)...))
}
