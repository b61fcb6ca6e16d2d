package alert

import (
	"context"
	"sync"
	"time"

	"cascadeflow/internal/metrics"
	"cascadeflow/logger"
)

// Dispatcher deduplicates alerts per (symbol, kind) key under a cooldown
// window. Records are created on first dispatch and updated on every
// attempt; they are never deleted.
type Dispatcher struct {
	notifier Notifier
	cooldown time.Duration
	log      *logger.Log
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time

	dispatched int64
	suppressed int64
	failed     int64
}

func NewDispatcher(notifier Notifier, cooldown time.Duration) *Dispatcher {
	if cooldown <= 0 {
		cooldown = 2 * time.Minute
	}
	return &Dispatcher{
		notifier: notifier,
		cooldown: cooldown,
		log:      logger.GetLogger(),
		now:      time.Now,
		lastSent: make(map[string]time.Time, 64),
	}
}

// SetNow overrides the dispatcher clock. Test hook.
func (d *Dispatcher) SetNow(now func() time.Time) {
	d.now = now
}

// MaybeDispatch sends the alert unless its key is still cooling down.
// Returns true when a dispatch was attempted. A notifier failure does not
// roll back the cooldown clock: once attempted, the key cools down, which
// keeps a flapping notifier from turning into an alert storm.
func (d *Dispatcher) MaybeDispatch(ctx context.Context, a *Alert) bool {
	key := a.Key()
	now := d.now()

	d.mu.Lock()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cooldown {
		d.suppressed++
		d.mu.Unlock()
		d.log.WithComponent("alert_dispatcher").WithFields(logger.Fields{
			"key":       key,
			"remaining": (d.cooldown - now.Sub(last)).Round(time.Second).String(),
		}).Debug("alert suppressed by cooldown")
		return false
	}
	d.lastSent[key] = now
	d.mu.Unlock()

	err := d.notifier.Send(ctx, a)

	d.mu.Lock()
	if err != nil {
		d.failed++
	} else {
		d.dispatched++
	}
	d.mu.Unlock()

	if err != nil {
		metrics.EmitDropMetric(d.log, metrics.DropMetricAlert, a.Exchange, a.Symbol, "notifier")
		d.log.WithComponent("alert_dispatcher").WithError(err).WithFields(logger.Fields{
			"key": key,
			"id":  a.ID,
		}).Error("alert delivery failed")
	} else {
		logger.IncrementAlertReported()
		metrics.IncrementAlertDispatched(string(a.Kind))
		d.log.WithComponent("alert_dispatcher").WithFields(logger.Fields{
			"key":    key,
			"id":     a.ID,
			"kind":   a.Kind,
			"symbol": a.Symbol,
			"level":  a.Level,
		}).Info("alert dispatched")
	}
	return true
}

// Stats reports dispatch counters for the introspection surface.
type Stats struct {
	Dispatched int64 `json:"dispatched"`
	Suppressed int64 `json:"suppressed"`
	Failed     int64 `json:"failed"`
	Keys       int   `json:"keys"`
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Dispatched: d.dispatched,
		Suppressed: d.suppressed,
		Failed:     d.failed,
		Keys:       len(d.lastSent),
	}
}
