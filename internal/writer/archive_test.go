package writer

import (
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "cascadeflow/config"
	"cascadeflow/internal/alert"
	"cascadeflow/internal/metrics"
	"cascadeflow/internal/models"
	"cascadeflow/logger"
)

func TestNormalizeBucketName(t *testing.T) {
	bucket, err := normalizeBucketName(" my-bucket ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bucket != "my-bucket" {
		t.Fatalf("expected trimmed bucket 'my-bucket', got %q", bucket)
	}
}

func TestNormalizeBucketNameRequiresValue(t *testing.T) {
	if _, err := normalizeBucketName("   \t  "); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

func TestNewArchiveWriterRequiresEnabledStorage(t *testing.T) {
	cfg := &appconfig.Config{}
	cfg.Storage.S3.Enabled = false
	if _, err := NewArchiveWriter(cfg, nil); err == nil {
		t.Fatal("expected error when s3 storage is disabled")
	}
}

func TestBufferKey(t *testing.T) {
	if got := bufferKey(" Binance ", "btcusdt"); got != "binance|BTCUSDT" {
		t.Fatalf("unexpected buffer key: %q", got)
	}
	if got := bufferKey("", "ETHUSDT"); got != "unknown|ETHUSDT" {
		t.Fatalf("unexpected buffer key for empty exchange: %q", got)
	}
}

func TestEventS3KeyLayout(t *testing.T) {
	w := &ArchiveWriter{}
	ts := time.Date(2025, 3, 5, 15, 4, 5, 0, time.UTC)
	key := w.eventS3Key("binance", "BTCUSDT", ts)

	want := "liquidations/exchange=binance/symbol=BTCUSDT/date=2025-03-05/binance_liq_BTCUSDT_20250305150405.parquet"
	if key != want {
		t.Fatalf("eventS3Key = %q, want %q", key, want)
	}
}

func TestAlertS3KeyLayout(t *testing.T) {
	w := &ArchiveWriter{}
	ts := time.Date(2025, 3, 5, 15, 4, 5, 0, time.UTC)
	key := w.alertS3Key(ts)

	if !strings.HasPrefix(key, "alerts/date=2025-03-05/alerts_") {
		t.Fatalf("unexpected alert key layout: %q", key)
	}
}

func TestLatestEventTime(t *testing.T) {
	entries := []models.LiquidationEvent{
		{Timestamp: time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC).UnixMilli()},
		{Timestamp: time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC).UnixMilli()},
		{Timestamp: 0},
	}
	got := latestEventTime(entries)
	want := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("latestEventTime = %v, want %v", got, want)
	}
}

func TestLatestEventTimeFallsBackToNow(t *testing.T) {
	before := time.Now().Add(-time.Second)
	got := latestEventTime([]models.LiquidationEvent{{Timestamp: 0}})
	if got.Before(before) {
		t.Fatalf("expected current time fallback, got %v", got)
	}
}

func TestCreateEventParquet(t *testing.T) {
	entries := []models.LiquidationEvent{
		{
			Exchange:  "binance",
			Symbol:    "BTCUSDT",
			Side:      models.SideLong,
			Price:     60000,
			Quantity:  0.5,
			Value:     30000,
			Timestamp: time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC).UnixMilli(),
		},
		{
			Exchange: "okx",
			Symbol:   "ETHUSDT",
			Side:     models.SideShort,
			Price:    3000,
			Quantity: 2,
			Value:    6000,
		},
	}

	data, size, err := createEventParquet(entries, time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("createEventParquet error: %v", err)
	}
	if size == 0 || len(data) == 0 {
		t.Fatal("expected non-empty parquet output")
	}
	if int64(len(data)) != size {
		t.Fatalf("size mismatch: len=%d size=%d", len(data), size)
	}
}

func TestCreateAlertParquet(t *testing.T) {
	alerts := []alert.Alert{
		{
			ID:           "id-1",
			Kind:         alert.KindCascade,
			Symbol:       "BTCUSDT",
			Level:        "HIGH",
			Archetype:    "FLASH_CASCADE",
			DominantSide: "LONG",
			Score:        1.2,
			EventCount:   6,
			TotalValue:   250000,
			Duration:     14,
			ThresholdUSD: 26400,
			Confidence:   0.8,
			Timestamp:    time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC),
		},
	}

	data, size, err := createAlertParquet(alerts)
	if err != nil {
		t.Fatalf("createAlertParquet error: %v", err)
	}
	if size == 0 || len(data) == 0 {
		t.Fatal("expected non-empty parquet output")
	}
}

func TestFlushEventKeyUploadFailureEmitsDropMetric(t *testing.T) {
	var mu sync.Mutex
	var captured []metrics.Metric
	id := metrics.RegisterMetricHandler(func(m metrics.Metric) {
		mu.Lock()
		captured = append(captured, m)
		mu.Unlock()
	})
	defer metrics.UnregisterMetricHandler(id)

	// No bucket configured: the upload fails and the batch counts as lost.
	w := &ArchiveWriter{
		log:         logger.GetLogger(),
		eventBuffer: make(map[string][]models.LiquidationEvent),
		lastFlush:   make(map[string]time.Time),
	}
	key := bufferKey("binance", "BTCUSDT")
	w.eventBuffer[key] = []models.LiquidationEvent{{
		Symbol:    "BTCUSDT",
		Exchange:  "binance",
		Side:      models.SideLong,
		Price:     60000,
		Quantity:  0.5,
		Value:     30000,
		Timestamp: time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC).UnixMilli(),
	}}

	w.flushEventKey(key)

	mu.Lock()
	defer mu.Unlock()
	for _, m := range captured {
		if m.Name == string(metrics.DropMetricArchive) {
			if m.Fields["exchange"] != "binance" || m.Fields["stage"] != "event_batch" {
				t.Fatalf("drop metric fields = %v", m.Fields)
			}
			return
		}
	}
	t.Fatalf("expected %s metric after upload failure, got %d metrics", metrics.DropMetricArchive, len(captured))
}
