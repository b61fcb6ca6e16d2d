package metrics

import "cascadeflow/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricLiquidationRaw records dropped liquidation stream messages.
	DropMetricLiquidationRaw DropMetric = "liquidation_messages_dropped"
	// DropMetricAlert records alerts lost to notifier failures.
	DropMetricAlert DropMetric = "alerts_dropped"
	// DropMetricArchive records archive batches lost to storage failures.
	DropMetricArchive DropMetric = "archive_batches_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped message. The
// metric value is always incremented by one so callers should invoke this
// helper for each dropped message. Optional metadata (exchange, symbol,
// stage) enables downstream aggregation per exchange and stream type.
func EmitDropMetric(log *logger.Log, metric DropMetric, exchange, symbol, stage string) {
	fields := logger.Fields{}
	if exchange != "" {
		fields["exchange"] = exchange
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
