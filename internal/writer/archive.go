package writer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "cascadeflow/config"
	"cascadeflow/internal/alert"
	"cascadeflow/internal/metrics"
	"cascadeflow/internal/models"
	"cascadeflow/logger"
)

const (
	archiveKeySeparator = "|"
	alertBufferKey      = "alerts"
	defaultArchiveFlush = time.Minute
)

type archiveMemFile struct {
	buffer *bytes.Buffer
}

func newArchiveMemFile() *archiveMemFile {
	return &archiveMemFile{buffer: &bytes.Buffer{}}
}

func (m *archiveMemFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *archiveMemFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *archiveMemFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *archiveMemFile) Read([]byte) (int, error)                  { return 0, io.EOF }
func (m *archiveMemFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *archiveMemFile) Close() error                              { return nil }
func (m *archiveMemFile) Bytes() []byte                             { return m.buffer.Bytes() }

// eventRecord defines the parquet schema for archived liquidation events.
type eventRecord struct {
	Exchange  string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Quantity  float64 `parquet:"name=quantity, type=DOUBLE"`
	ValueUSD  float64 `parquet:"name=value_usd, type=DOUBLE"`
	EventTime int64   `parquet:"name=event_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// alertRecord defines the parquet schema for archived alerts.
type alertRecord struct {
	ID              string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind            string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol          string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchange        string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Level           string  `parquet:"name=level, type=BYTE_ARRAY, convertedtype=UTF8"`
	Archetype       string  `parquet:"name=archetype, type=BYTE_ARRAY, convertedtype=UTF8"`
	DominantSide    string  `parquet:"name=dominant_side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Score           float64 `parquet:"name=score, type=DOUBLE"`
	EventCount      int32   `parquet:"name=event_count, type=INT32"`
	TotalValueUSD   float64 `parquet:"name=total_value_usd, type=DOUBLE"`
	DurationSeconds float64 `parquet:"name=duration_seconds, type=DOUBLE"`
	Correlation     float64 `parquet:"name=cross_exchange_correlation, type=DOUBLE"`
	ThresholdUSD    float64 `parquet:"name=threshold_usd, type=DOUBLE"`
	Confidence      float64 `parquet:"name=confidence, type=DOUBLE"`
	AlertTime       int64   `parquet:"name=alert_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// ArchiveWriter buffers normalized liquidation events and dispatched alerts
// and periodically writes them to S3 as snappy-compressed parquet files.
type ArchiveWriter struct {
	cfg      *appconfig.Config
	events   <-chan models.LiquidationEvent
	s3Client *s3.Client
	log      *logger.Log
	bucket   string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	running  bool
	mu       sync.Mutex

	eventBuffer   map[string][]models.LiquidationEvent
	alertBuffer   []alert.Alert
	lastFlush     map[string]time.Time
	flushInterval time.Duration
	flushTicker   *time.Ticker
	maxBufferSize int
}

// NewArchiveWriter initializes the writer using S3 credentials from config
// and prepares buffering structures.
func NewArchiveWriter(cfg *appconfig.Config, events <-chan models.LiquidationEvent) (*ArchiveWriter, error) {
	log := logger.GetLogger()
	if !cfg.Storage.S3.Enabled {
		return nil, fmt.Errorf("s3 storage is disabled")
	}

	bucket, err := normalizeBucketName(cfg.Storage.S3.Bucket)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	flushInterval := cfg.Storage.S3.FlushInterval.Std()
	if flushInterval <= 0 {
		flushInterval = defaultArchiveFlush
	}

	maxBuffer := cfg.Storage.S3.MaxBuffer
	if maxBuffer <= 0 {
		maxBuffer = 5000
	}

	w := &ArchiveWriter{
		cfg:           cfg,
		events:        events,
		s3Client:      s3Client,
		log:           log,
		bucket:        bucket,
		wg:            &sync.WaitGroup{},
		eventBuffer:   make(map[string][]models.LiquidationEvent),
		lastFlush:     make(map[string]time.Time),
		flushInterval: flushInterval,
		maxBufferSize: maxBuffer,
	}

	log.WithComponent("archive_writer").WithFields(logger.Fields{
		"bucket":         bucket,
		"region":         cfg.Storage.S3.Region,
		"endpoint":       cfg.Storage.S3.Endpoint,
		"path_style":     cfg.Storage.S3.PathStyle,
		"flush_interval": flushInterval.String(),
		"max_buffer":     maxBuffer,
	}).Info("archive writer initialized")

	return w, nil
}

func normalizeBucketName(raw string) (string, error) {
	bucket := strings.TrimSpace(raw)
	if bucket == "" {
		return "", fmt.Errorf("s3 bucket not configured")
	}
	return bucket, nil
}

// Start launches the ingestion and flush workers.
func (w *ArchiveWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("archive writer already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.eventBuffer = make(map[string][]models.LiquidationEvent)
	w.alertBuffer = nil
	w.lastFlush = make(map[string]time.Time)
	tickerInterval := w.flushInterval
	if tickerInterval > time.Second {
		tickerInterval = time.Second
	}
	w.flushTicker = time.NewTicker(tickerInterval)
	w.mu.Unlock()

	w.log.WithComponent("archive_writer").Info("starting archive writer")

	w.wg.Add(1)
	go w.worker()

	w.wg.Add(1)
	go w.flushWorker()

	return nil
}

// Stop signals the workers to terminate and flushes remaining data.
func (w *ArchiveWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	ticker := w.flushTicker
	w.cancel = nil
	w.flushTicker = nil
	w.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if cancel != nil {
		cancel()
	}

	w.wg.Wait()
	w.flushAll("stop")
	w.log.WithComponent("archive_writer").Info("archive writer stopped")
}

func (w *ArchiveWriter) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.events:
			if !ok {
				return
			}
			w.addEvent(ev)
		}
	}
}

func (w *ArchiveWriter) flushWorker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.flushAll("context_cancelled")
			return
		case <-w.flushTicker.C:
			w.flushTimedOut()
		}
	}
}

func (w *ArchiveWriter) addEvent(ev models.LiquidationEvent) {
	if ev.Exchange == "" || ev.Symbol == "" {
		return
	}
	key := bufferKey(ev.Exchange, ev.Symbol)
	w.mu.Lock()
	w.eventBuffer[key] = append(w.eventBuffer[key], ev)
	if _, ok := w.lastFlush[key]; !ok {
		w.lastFlush[key] = time.Now()
	}
	shouldFlush := len(w.eventBuffer[key]) >= w.maxBufferSize
	w.mu.Unlock()

	if shouldFlush {
		w.flushEventKey(key)
	}
}

// ArchiveAlert buffers a dispatched alert for the next flush. Safe for
// concurrent use.
func (w *ArchiveWriter) ArchiveAlert(a *alert.Alert) {
	if a == nil {
		return
	}
	w.mu.Lock()
	w.alertBuffer = append(w.alertBuffer, *a)
	if _, ok := w.lastFlush[alertBufferKey]; !ok {
		w.lastFlush[alertBufferKey] = time.Now()
	}
	shouldFlush := len(w.alertBuffer) >= w.maxBufferSize
	w.mu.Unlock()

	if shouldFlush {
		w.flushAlerts()
	}
}

func (w *ArchiveWriter) flushTimedOut() {
	now := time.Now()
	w.mu.Lock()
	keys := make([]string, 0, len(w.eventBuffer))
	for key := range w.eventBuffer {
		if len(w.eventBuffer[key]) == 0 {
			continue
		}
		if now.Sub(w.lastFlush[key]) >= w.flushInterval {
			keys = append(keys, key)
		}
	}
	alertsDue := len(w.alertBuffer) > 0 && now.Sub(w.lastFlush[alertBufferKey]) >= w.flushInterval
	w.mu.Unlock()

	for _, key := range keys {
		w.flushEventKey(key)
	}
	if alertsDue {
		w.flushAlerts()
	}
}

func (w *ArchiveWriter) flushAll(reason string) {
	w.mu.Lock()
	keys := make([]string, 0, len(w.eventBuffer))
	for key := range w.eventBuffer {
		if len(w.eventBuffer[key]) > 0 {
			keys = append(keys, key)
		}
	}
	hasAlerts := len(w.alertBuffer) > 0
	w.mu.Unlock()

	if len(keys) == 0 && !hasAlerts {
		return
	}

	w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"flushed_buffers": len(keys),
		"reason":          reason,
	}).Info("flushing archive buffers")

	for _, key := range keys {
		w.flushEventKey(key)
	}
	if hasAlerts {
		w.flushAlerts()
	}
}

func (w *ArchiveWriter) flushEventKey(key string) {
	w.mu.Lock()
	entries := w.eventBuffer[key]
	if len(entries) == 0 {
		w.mu.Unlock()
		return
	}
	delete(w.eventBuffer, key)
	delete(w.lastFlush, key)
	w.mu.Unlock()

	parts := strings.SplitN(key, archiveKeySeparator, 2)
	exchange := parts[0]
	symbol := ""
	if len(parts) > 1 {
		symbol = parts[1]
	}

	batchTimestamp := latestEventTime(entries)

	data, size, err := createEventParquet(entries, batchTimestamp)
	if err != nil {
		w.log.WithComponent("archive_writer").WithError(err).Error("failed to create parquet for event batch")
		return
	}

	s3Key := w.eventS3Key(exchange, symbol, batchTimestamp)
	if err := w.upload(s3Key, data); err != nil {
		metrics.EmitDropMetric(w.log, metrics.DropMetricArchive, exchange, symbol, "event_batch")
		w.log.WithComponent("archive_writer").WithError(err).WithFields(logger.Fields{
			"s3_key": s3Key,
		}).Error("failed to upload event batch")
		return
	}

	w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"s3_key":  s3Key,
		"records": len(entries),
		"bytes":   size,
	}).Info("event batch uploaded")
}

func (w *ArchiveWriter) flushAlerts() {
	w.mu.Lock()
	alerts := w.alertBuffer
	if len(alerts) == 0 {
		w.mu.Unlock()
		return
	}
	w.alertBuffer = nil
	delete(w.lastFlush, alertBufferKey)
	w.mu.Unlock()

	batchTimestamp := time.Now().UTC()
	for _, a := range alerts {
		if a.Timestamp.After(batchTimestamp) {
			batchTimestamp = a.Timestamp
		}
	}

	data, size, err := createAlertParquet(alerts)
	if err != nil {
		w.log.WithComponent("archive_writer").WithError(err).Error("failed to create parquet for alert batch")
		return
	}

	s3Key := w.alertS3Key(batchTimestamp)
	if err := w.upload(s3Key, data); err != nil {
		metrics.EmitDropMetric(w.log, metrics.DropMetricArchive, "", "", "alert_batch")
		w.log.WithComponent("archive_writer").WithError(err).WithFields(logger.Fields{
			"s3_key": s3Key,
		}).Error("failed to upload alert batch")
		return
	}

	w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"s3_key":  s3Key,
		"records": len(alerts),
		"bytes":   size,
	}).Info("alert batch uploaded")
}

func latestEventTime(entries []models.LiquidationEvent) time.Time {
	var latest time.Time
	for i := range entries {
		if entries[i].Timestamp > 0 {
			ts := time.UnixMilli(entries[i].Timestamp)
			if ts.After(latest) {
				latest = ts
			}
		}
	}
	if latest.IsZero() {
		latest = time.Now().UTC()
	}
	return latest
}

func createEventParquet(entries []models.LiquidationEvent, batchTimestamp time.Time) ([]byte, int64, error) {
	mf := newArchiveMemFile()
	pw, err := writer.NewParquetWriter(mf, new(eventRecord), 1)
	if err != nil {
		return nil, 0, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range entries {
		entry := &entries[i]
		eventTime := entry.Timestamp
		if eventTime == 0 {
			eventTime = batchTimestamp.UTC().UnixMilli()
		}
		rec := eventRecord{
			Exchange:  strings.ToLower(entry.Exchange),
			Symbol:    strings.ToUpper(entry.Symbol),
			Side:      entry.Side.String(),
			Price:     entry.Price,
			Quantity:  entry.Quantity,
			ValueUSD:  entry.Value,
			EventTime: eventTime,
		}
		if err := pw.Write(rec); err != nil {
			return nil, 0, err
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, 0, err
	}

	data := mf.Bytes()
	return data, int64(len(data)), nil
}

func createAlertParquet(alerts []alert.Alert) ([]byte, int64, error) {
	mf := newArchiveMemFile()
	pw, err := writer.NewParquetWriter(mf, new(alertRecord), 1)
	if err != nil {
		return nil, 0, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range alerts {
		a := &alerts[i]
		rec := alertRecord{
			ID:              a.ID,
			Kind:            string(a.Kind),
			Symbol:          a.Symbol,
			Exchange:        strings.ToLower(a.Exchange),
			Level:           a.Level,
			Archetype:       a.Archetype,
			DominantSide:    a.DominantSide,
			Score:           a.Score,
			EventCount:      int32(a.EventCount),
			TotalValueUSD:   a.TotalValue,
			DurationSeconds: a.Duration,
			Correlation:     a.Correlation,
			ThresholdUSD:    a.ThresholdUSD,
			Confidence:      a.Confidence,
			AlertTime:       a.Timestamp.UTC().UnixMilli(),
		}
		if err := pw.Write(rec); err != nil {
			return nil, 0, err
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, 0, err
	}

	data := mf.Bytes()
	return data, int64(len(data)), nil
}

func (w *ArchiveWriter) upload(key string, data []byte) error {
	if w.bucket == "" {
		return fmt.Errorf("s3 bucket not configured")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}

	ctx := context.WithoutCancel(w.ctx)
	_, err := w.s3Client.PutObject(ctx, input)
	return err
}

func bufferKey(exchange, symbol string) string {
	exch := strings.ToLower(strings.TrimSpace(exchange))
	if exch == "" {
		exch = "unknown"
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	return exch + archiveKeySeparator + sym
}

func (w *ArchiveWriter) eventS3Key(exchange, symbol string, timestamp time.Time) string {
	ts := timestamp.UTC()
	parts := []string{
		"liquidations",
		fmt.Sprintf("exchange=%s", strings.ToLower(exchange)),
		fmt.Sprintf("symbol=%s", strings.ToUpper(symbol)),
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("%s_liq_%s_%s.parquet", strings.ToLower(exchange), strings.ToUpper(symbol), ts.Format("20060102150405")),
	}
	return filepath.ToSlash(filepath.Join(parts...))
}

func (w *ArchiveWriter) alertS3Key(timestamp time.Time) string {
	ts := timestamp.UTC()
	parts := []string{
		"alerts",
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("alerts_%s.parquet", ts.Format("20060102150405")),
	}
	return filepath.ToSlash(filepath.Join(parts...))
}

// archivingNotifier forwards alerts to the wrapped notifier after recording
// them in the archive. Delivery failures do not prevent archiving.
type archivingNotifier struct {
	next    alert.Notifier
	archive *ArchiveWriter
}

// WrapNotifier returns a notifier that archives every alert before
// forwarding it to next.
func WrapNotifier(next alert.Notifier, archive *ArchiveWriter) alert.Notifier {
	return &archivingNotifier{next: next, archive: archive}
}

func (n *archivingNotifier) Send(ctx context.Context, a *alert.Alert) error {
	n.archive.ArchiveAlert(a)
	return n.next.Send(ctx, a)
}
