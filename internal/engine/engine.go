package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cascadeflow/config"
	"cascadeflow/internal/alert"
	"cascadeflow/internal/metrics"
	"cascadeflow/internal/models"
	"cascadeflow/internal/profile"
	"cascadeflow/internal/risk"
	"cascadeflow/internal/store"
	"cascadeflow/internal/symbols"
	"cascadeflow/internal/threshold"
	"cascadeflow/internal/velocity"
	"cascadeflow/logger"
)

// symbolState bundles everything one symbol owns. The per-symbol mutex
// serializes the ring and downstream math when ingestion for one symbol is
// sharded across exchange adapters.
type symbolState struct {
	mu        sync.Mutex
	ring      *store.Ring
	lastEvent time.Time
}

// Engine is the event-to-alert pipeline: store update, velocity update,
// threshold lookup, risk assessment, classification, dispatch. Everything
// past the threshold lookup is pure computation and never blocks.
type Engine struct {
	cfg        config.EngineConfig
	riskCfg    config.RiskConfig
	profiles   *profile.Cache
	thresholds *threshold.Engine
	velocity   *velocity.Engine
	calculator *risk.Calculator
	dispatcher *alert.Dispatcher
	table      *symbols.Table
	log        *logger.Log
	now        func() time.Time

	mu     sync.RWMutex
	states map[string]*symbolState

	eventsProcessed int64
	eventsRejected  int64
	assessments     int64
	classifications int64

	latencyTotalNs int64
	latencyPeakNs  int64
	latencyCount   int64

	running bool
	runMu   sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(
	cfg config.EngineConfig,
	riskCfg config.RiskConfig,
	profiles *profile.Cache,
	thresholds *threshold.Engine,
	vel *velocity.Engine,
	calculator *risk.Calculator,
	dispatcher *alert.Dispatcher,
	table *symbols.Table,
) *Engine {
	return &Engine{
		cfg:        cfg,
		riskCfg:    riskCfg,
		profiles:   profiles,
		thresholds: thresholds,
		velocity:   vel,
		calculator: calculator,
		dispatcher: dispatcher,
		table:      table,
		log:        logger.GetLogger(),
		now:        time.Now,
		states:     make(map[string]*symbolState, 256),
	}
}

// SetNow overrides the engine clock. Test hook.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

func (e *Engine) state(symbol string) *symbolState {
	e.mu.RLock()
	st, ok := e.states[symbol]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.states[symbol]; ok {
		return st
	}
	st = &symbolState{ring: store.NewRing(symbol, e.cfg.RingCapacity)}
	e.states[symbol] = st
	metrics.SetTrackedSymbols(len(e.states))
	return st
}

// Submit runs one canonical event through the full pipeline. Malformed
// events are rejected and counted, never fatal. The threshold lookup is the
// only step that may block, and only on a profile cache miss.
func (e *Engine) Submit(ctx context.Context, ev *models.LiquidationEvent) {
	if err := ev.Validate(); err != nil {
		atomic.AddInt64(&e.eventsRejected, 1)
		metrics.IncrementEventRejected(ev.Exchange)
		e.log.WithComponent("cascade_engine").WithError(err).WithFields(logger.Fields{
			"symbol":   ev.Symbol,
			"exchange": ev.Exchange,
		}).Warn("rejected malformed event")
		return
	}

	start := e.now()
	e.table.Register(ev.Symbol)

	st := e.state(ev.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.ring.Append(ev)
	st.lastEvent = start
	snapshot := e.velocity.Update(ev)

	th := e.thresholds.Threshold(ctx, ev.Symbol)
	eventTime := ev.Time()

	if ev.Value >= th.SingleUSD {
		a := alert.NewSingle(ev.Symbol, ev.Exchange, ev.Side.String(), ev.Value, ev.Price, th.SingleUSD, th.Confidence, eventTime)
		e.dispatcher.MaybeDispatch(ctx, a)
	}

	e.assessCluster(ctx, st, ev.Symbol, th, snapshot, eventTime)

	atomic.AddInt64(&e.eventsProcessed, 1)
	logger.IncrementEventIngested()
	metrics.IncrementEventProcessed(ev.Exchange)

	elapsed := e.now().Sub(start)
	e.recordLatency(elapsed)
	metrics.ObserveEventLatency(elapsed.Seconds())
}

// assessCluster scores the recent-event cluster once it is big enough,
// classifies it, and hands actionable assessments to the dispatcher.
func (e *Engine) assessCluster(ctx context.Context, st *symbolState, symbol string, th *threshold.Result, snapshot velocity.Snapshot, now time.Time) {
	window := e.cfg.ClusterWindow.Std()
	events := st.ring.Recent(window, now)
	if len(events) < e.cfg.MinClusterSize {
		return
	}

	stats := risk.BuildClusterStats(events, e.riskCfg.InstitutionalCutoffUSD)
	assessment := e.calculator.Assess(symbol, stats, th)
	atomic.AddInt64(&e.assessments, 1)

	if !assessment.Level.Actionable() {
		return
	}

	archetype := e.classify(st, now)
	if archetype != risk.ArchetypeNone {
		atomic.AddInt64(&e.classifications, 1)
		metrics.IncrementClassification(archetype.String())
	}

	e.log.WithComponent("cascade_engine").WithFields(logger.Fields{
		"symbol":      symbol,
		"score":       assessment.Score,
		"level":       assessment.Level.String(),
		"archetype":   archetype.String(),
		"events":      assessment.EventCount,
		"value_usd":   assessment.TotalValue,
		"correlation": snapshot.Correlation,
	}).Info("cascade risk actionable")

	a := alert.FromAssessment(assessment, archetype, th.CascadeUSD, th.Confidence, snapshot.Correlation)
	e.dispatcher.MaybeDispatch(ctx, a)
}

// classify probes the archetype windows tightest first, re-windowing the
// ring per horizon: a slow rolling cascade needs the wider lookback that the
// risk-scoring window does not keep.
func (e *Engine) classify(st *symbolState, now time.Time) risk.Archetype {
	for _, a := range []risk.Archetype{risk.ArchetypeFlash, risk.ArchetypeRolling, risk.ArchetypeDeathSpiral} {
		horizon := time.Duration(a.HorizonSeconds() * float64(time.Second))
		events := st.ring.Recent(horizon, now)
		stats := risk.BuildClusterStats(events, e.riskCfg.InstitutionalCutoffUSD)
		if got := risk.Classify(stats.Duration, stats.Count); got != risk.ArchetypeNone {
			return got
		}
	}
	return risk.ArchetypeNone
}

func (e *Engine) recordLatency(d time.Duration) {
	ns := d.Nanoseconds()
	atomic.AddInt64(&e.latencyTotalNs, ns)
	atomic.AddInt64(&e.latencyCount, 1)
	for {
		peak := atomic.LoadInt64(&e.latencyPeakNs)
		if ns <= peak || atomic.CompareAndSwapInt64(&e.latencyPeakNs, peak, ns) {
			return
		}
	}
}

// Start launches the stale-symbol eviction loop.
func (e *Engine) Start() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	go e.evictionLoop()
	e.log.WithComponent("cascade_engine").Info("engine started")
}

// Stop halts the eviction loop. In-flight Submit calls complete on their
// own; they are non-blocking and fast.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
	<-e.doneCh
	e.log.WithComponent("cascade_engine").Info("engine stopped")
}

func (e *Engine) evictionLoop() {
	defer close(e.doneCh)
	interval := e.cfg.EvictionInterval.Std()
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.EvictStale()
		}
	}
}

// EvictStale drops per-symbol state for symbols silent longer than the TTL.
// Bounds symbol-cardinality growth explicitly instead of letting the maps
// accrete forever.
func (e *Engine) EvictStale() int {
	ttl := e.cfg.SymbolTTL.Std()
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	cutoff := e.now().Add(-ttl)

	e.mu.Lock()
	var stale []string
	for symbol, st := range e.states {
		if st.lastEvent.Before(cutoff) {
			stale = append(stale, symbol)
			delete(e.states, symbol)
		}
	}
	remaining := len(e.states)
	e.mu.Unlock()

	metrics.SetTrackedSymbols(remaining)

	for _, symbol := range stale {
		e.velocity.Remove(symbol)
		e.thresholds.Evict(symbol)
		e.profiles.Evict(symbol)
	}
	if len(stale) > 0 {
		e.log.WithComponent("cascade_engine").WithField("evicted", len(stale)).Info("evicted stale symbols")
	}
	return len(stale)
}

// Status is the aggregate introspection snapshot for operational tooling.
type Status struct {
	EventsProcessed   int64       `json:"events_processed"`
	EventsRejected    int64       `json:"events_rejected"`
	Assessments       int64       `json:"assessments"`
	Classifications   int64       `json:"classifications"`
	Alerts            alert.Stats `json:"alerts"`
	TrackedSymbols    int         `json:"tracked_symbols"`
	ProfileCacheSize  int         `json:"profile_cache_size"`
	ThresholdCacheLen int         `json:"threshold_cache_size"`
	HashCollisions    int64       `json:"hash_collisions"`
	AvgLatencyMicros  float64     `json:"avg_latency_micros"`
	PeakLatencyMicros float64     `json:"peak_latency_micros"`
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	tracked := len(e.states)
	e.mu.RUnlock()

	count := atomic.LoadInt64(&e.latencyCount)
	var avg float64
	if count > 0 {
		avg = float64(atomic.LoadInt64(&e.latencyTotalNs)) / float64(count) / 1e3
	}

	return Status{
		EventsProcessed:   atomic.LoadInt64(&e.eventsProcessed),
		EventsRejected:    atomic.LoadInt64(&e.eventsRejected),
		Assessments:       atomic.LoadInt64(&e.assessments),
		Classifications:   atomic.LoadInt64(&e.classifications),
		Alerts:            e.dispatcher.Stats(),
		TrackedSymbols:    tracked,
		ProfileCacheSize:  e.profiles.Len(),
		ThresholdCacheLen: e.thresholds.CacheLen(),
		HashCollisions:    e.table.Collisions(),
		AvgLatencyMicros:  avg,
		PeakLatencyMicros: float64(atomic.LoadInt64(&e.latencyPeakNs)) / 1e3,
	}
}

// SymbolStatus is the per-symbol introspection snapshot.
type SymbolStatus struct {
	Symbol      string          `json:"symbol"`
	BufferedLen int             `json:"buffered_events"`
	LastEvent   time.Time       `json:"last_event"`
	Window      store.Aggregate `json:"window_60s"`
}

// SymbolStatus reports one symbol's buffer and recent-window aggregates.
// The second return is false for untracked symbols.
func (e *Engine) SymbolStatus(symbol string) (SymbolStatus, bool) {
	e.mu.RLock()
	st, ok := e.states[symbol]
	e.mu.RUnlock()
	if !ok {
		return SymbolStatus{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return SymbolStatus{
		Symbol:      symbol,
		BufferedLen: st.ring.Len(),
		LastEvent:   st.lastEvent,
		Window:      st.ring.AggregateWindow(time.Minute, e.now()),
	}, true
}

// Symbols lists the currently tracked symbols.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.states))
	for symbol := range e.states {
		out = append(out, symbol)
	}
	return out
}
