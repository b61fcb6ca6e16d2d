package metrics

import (
	"context"
	"time"

	liqchannel "cascadeflow/internal/channel/liq"
	"cascadeflow/logger"
)

// StartChannelSizeMetrics emits occupancy metrics for the raw liquidation
// buffer. Metrics are logged every interval until the context is cancelled.
// When interval <= 0, a one-second cadence is used.
func StartChannelSizeMetrics(ctx context.Context, channels *liqchannel.Channels, interval time.Duration) {
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := channels.GetStats()
				EmitMetric(log, component, "liq_raw_buffer_length", channels.Size(), "gauge", logger.Fields{
					"buffer":   "liq_raw",
					"capacity": cap(channels.Raw),
				})
				EmitMetric(log, component, "liq_raw_dropped_total", stats.RawDropped, "gauge", logger.Fields{
					"buffer": "liq_raw",
				})
			}
		}
	}()
}
