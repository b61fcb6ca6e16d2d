package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Lightweight counters surfaced by the periodic report. Warn/error totals are
// bucketed by component prefix so operators can see at a glance which stage
// of the pipeline is unhappy.

type componentStat struct {
	warns  int64
	errors int64
}

var (
	reportComponents sync.Map // map[string]*componentStat
	eventsIngested   int64
	alertsReported   int64
)

func recordWarn(component string) {
	stat := loadComponentStat(component)
	atomic.AddInt64(&stat.warns, 1)
}

func recordError(component string) {
	stat := loadComponentStat(component)
	atomic.AddInt64(&stat.errors, 1)
}

func loadComponentStat(component string) *componentStat {
	v, _ := reportComponents.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

// IncrementEventIngested feeds the periodic report's throughput line.
func IncrementEventIngested() {
	atomic.AddInt64(&eventsIngested, 1)
}

// IncrementAlertReported feeds the periodic report's alert line.
func IncrementAlertReported() {
	atomic.AddInt64(&alertsReported, 1)
}

// StartReport begins periodic logging of ingest throughput and per-component
// warn/error counts. Counters reset after each report so every line is a
// per-interval delta.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emitReport(log, interval)
			}
		}
	}()
}

func emitReport(log *Log, interval time.Duration) {
	events := atomic.SwapInt64(&eventsIngested, 0)
	alerts := atomic.SwapInt64(&alertsReported, 0)

	fields := Fields{
		"interval": interval.String(),
		"events":   events,
		"alerts":   alerts,
	}

	reportComponents.Range(func(key, value interface{}) bool {
		stat := value.(*componentStat)
		warns := atomic.SwapInt64(&stat.warns, 0)
		errors := atomic.SwapInt64(&stat.errors, 0)
		if warns > 0 {
			fields[key.(string)+"_warns"] = warns
		}
		if errors > 0 {
			fields[key.(string)+"_errors"] = errors
		}
		return true
	})

	log.WithComponent("report").WithFields(fields).Info("pipeline report")
}
