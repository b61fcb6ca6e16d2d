// Registers:
//
//	#Cascadeflow_events_processed_total
//	#Cascadeflow_events_rejected_total
//	#Cascadeflow_alerts_dispatched_total
//	#Cascadeflow_classifications_total
//	#go_* and process_* system metrics
//
// Exposes them on the configured address using the Prometheus HTTP handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cascadeflow/logger"
)

var (
	once             sync.Once
	eventsProcessed  *prometheus.CounterVec
	eventsRejected   *prometheus.CounterVec
	alertsDispatched *prometheus.CounterVec
	classifications  *prometheus.CounterVec
	trackedSymbols   prometheus.Gauge
	eventLatency     prometheus.Histogram
)

// Init registers the application metrics and serves them over HTTP. The
// address defaults to :2112 when empty.
func Init(address string) {
	once.Do(func() {
		eventsProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "Cascadeflow_events_processed_total",
				Help: "Number of canonical liquidation events processed",
			},
			[]string{"exchange"},
		)
		eventsRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "Cascadeflow_events_rejected_total",
				Help: "Number of events rejected for failing canonical invariants",
			},
			[]string{"exchange"},
		)
		alertsDispatched = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "Cascadeflow_alerts_dispatched_total",
				Help: "Number of alerts handed to the notifier",
			},
			[]string{"kind"},
		)
		classifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "Cascadeflow_classifications_total",
				Help: "Number of cascade archetype classifications emitted",
			},
			[]string{"archetype"},
		)
		trackedSymbols = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "Cascadeflow_tracked_symbols",
			Help: "Symbols with live per-symbol pipeline state",
		})
		eventLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "Cascadeflow_event_latency_seconds",
			Help:    "Per-event pipeline processing latency",
			Buckets: prometheus.ExponentialBuckets(10e-6, 4, 10),
		})

		_ = prometheus.Register(eventsProcessed)
		_ = prometheus.Register(eventsRejected)
		_ = prometheus.Register(alertsDispatched)
		_ = prometheus.Register(classifications)
		_ = prometheus.Register(trackedSymbols)
		_ = prometheus.Register(eventLatency)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if address == "" {
			address = "0.0.0.0:2112"
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(address, mux); err != nil {
				logger.GetLogger().WithComponent("metrics").WithError(err).Error("metrics server failed")
			}
		}()
	})
}

// IncrementEventProcessed increases the processed counter for an exchange.
func IncrementEventProcessed(exchange string) {
	if eventsProcessed != nil {
		eventsProcessed.WithLabelValues(exchange).Inc()
	}
}

// IncrementEventRejected increases the rejected counter for an exchange.
func IncrementEventRejected(exchange string) {
	if eventsRejected != nil {
		eventsRejected.WithLabelValues(exchange).Inc()
	}
}

// IncrementAlertDispatched increases the dispatched counter for a kind.
func IncrementAlertDispatched(kind string) {
	if alertsDispatched != nil {
		alertsDispatched.WithLabelValues(kind).Inc()
	}
}

// IncrementClassification increases the classification counter per archetype.
func IncrementClassification(archetype string) {
	if classifications != nil {
		classifications.WithLabelValues(archetype).Inc()
	}
}

// SetTrackedSymbols records the current tracked-symbol cardinality.
func SetTrackedSymbols(n int) {
	if trackedSymbols != nil {
		trackedSymbols.Set(float64(n))
	}
}

// ObserveEventLatency records one per-event processing duration in seconds.
func ObserveEventLatency(seconds float64) {
	if eventLatency != nil {
		eventLatency.Observe(seconds)
	}
}
