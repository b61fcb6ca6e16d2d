package velocity

import (
	"sync"
	"time"

	"cascadeflow/internal/models"
)

// Snapshot is the per-event output of the velocity engine.
type Snapshot struct {
	Symbol       string                `json:"symbol"`
	Timestamp    int64                 `json:"timestamp"`
	Frames       map[string]FrameStats `json:"frames"`
	Acceleration float64               `json:"acceleration"` // Δvelocity/Δt on the 500ms frame
	Jerk         float64               `json:"jerk"`         // Δacceleration/Δt
	Correlation  float64               `json:"correlation"`  // cross-exchange dispersion proxy, [0,1]
}

type symbolState struct {
	frames      map[string]*window // merged across exchanges
	perExchange map[string]*window // correlation horizon per venue
	hist        *history
}

// Engine maintains the multi-timeframe sliding windows per symbol and the
// per-venue windows backing the cross-exchange correlation signal.
//
// Updates for the same symbol must be serialized by the caller; the engine
// only locks its symbol map.
type Engine struct {
	timeframes  []Timeframe
	historySize int

	mu     sync.RWMutex
	states map[string]*symbolState
}

func NewEngine(historySize int) *Engine {
	return &Engine{
		timeframes:  DefaultTimeframes(),
		historySize: historySize,
		states:      make(map[string]*symbolState, 128),
	}
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
	st = &symbolState{
		frames:      make(map[string]*window, len(e.timeframes)),
		perExchange: make(map[string]*window, 4),
		hist:        newHistory(e.historySize),
	}
	for _, tf := range e.timeframes {
		st.frames[tf.Name] = newWindow(tf.Horizon)
	}
	e.states[symbol] = st
	return st
}

// Update folds the event into every timeframe window and recomputes the
// derived scalars. Event timestamps drive all window math; with sub-second
// delivery latency they are interchangeable with the wall clock, and they
// make the derivatives reproducible in tests.
func (e *Engine) Update(ev *models.LiquidationEvent) Snapshot {
	st := e.state(ev.Symbol)
	nowMs := ev.Timestamp

	snap := Snapshot{
		Symbol:    ev.Symbol,
		Timestamp: nowMs,
		Frames:    make(map[string]FrameStats, len(st.frames)),
	}

	for name, w := range st.frames {
		w.add(nowMs, ev.Value)
		w.evict(nowMs)
		snap.Frames[name] = frameStats(w)
	}

	exW, ok := st.perExchange[ev.Exchange]
	if !ok {
		exW = newWindow(frameHorizon(e.timeframes, correlationFrame))
		st.perExchange[ev.Exchange] = exW
	}
	exW.add(nowMs, ev.Value)
	for _, w := range st.perExchange {
		w.evict(nowMs)
	}

	refVelocity := snap.Frames[referenceFrame].EventVelocity
	snap.Acceleration, snap.Jerk = derive(st.hist, nowMs, refVelocity)
	st.hist.push(histSample{ts: nowMs, velocity: refVelocity, acceleration: snap.Acceleration})

	snap.Correlation = crossExchangeCorrelation(st.perExchange)

	return snap
}

// derive computes acceleration against the previous history sample and jerk
// against that sample's acceleration. With no prior sample both are 0.
func derive(h *history, nowMs int64, velocity float64) (accel, jerk float64) {
	prev, ok := h.last()
	if !ok {
		return 0, 0
	}
	dt := float64(nowMs-prev.ts) / 1000
	if dt <= 0 {
		return 0, 0
	}
	accel = (velocity - prev.velocity) / dt
	jerk = (accel - prev.acceleration) / dt
	return accel, jerk
}

// crossExchangeCorrelation compares per-venue event velocities for one
// symbol: 1 - variance/mean^2, clamped to [0,1]. This is a dispersion proxy
// for "all venues are liquidating at once", not a Pearson correlation.
func crossExchangeCorrelation(perExchange map[string]*window) float64 {
	velocities := make([]float64, 0, len(perExchange))
	for _, w := range perExchange {
		count, _ := w.stats()
		if count == 0 {
			continue
		}
		secs := w.horizon.Seconds()
		if secs <= 0 {
			continue
		}
		velocities = append(velocities, float64(count)/secs)
	}
	if len(velocities) < 2 {
		return 0
	}

	var mean float64
	for _, v := range velocities {
		mean += v
	}
	mean /= float64(len(velocities))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, v := range velocities {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(velocities))

	corr := 1 - variance/(mean*mean)
	if corr < 0 {
		return 0
	}
	if corr > 1 {
		return 1
	}
	return corr
}

func frameHorizon(tfs []Timeframe, name string) time.Duration {
	for _, tf := range tfs {
		if tf.Name == name {
			return tf.Horizon
		}
	}
	return 10 * time.Second
}

// Remove drops all state for a symbol. Used by the engine's stale-symbol
// eviction policy.
func (e *Engine) Remove(symbol string) {
	e.mu.Lock()
	delete(e.states, symbol)
	e.mu.Unlock()
}

// Symbols returns the number of tracked symbols.
func (e *Engine) Symbols() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.states)
}
