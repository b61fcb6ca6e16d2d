package velocity

import "time"

// Timeframe names one sliding-window horizon.
type Timeframe struct {
	Name    string
	Horizon time.Duration
}

// DefaultTimeframes returns the fixed horizon set every symbol is tracked
// under. The 500ms frame doubles as the derivative reference.
func DefaultTimeframes() []Timeframe {
	return []Timeframe{
		{Name: "100ms", Horizon: 100 * time.Millisecond},
		{Name: "500ms", Horizon: 500 * time.Millisecond},
		{Name: "2s", Horizon: 2 * time.Second},
		{Name: "10s", Horizon: 10 * time.Second},
		{Name: "60s", Horizon: 60 * time.Second},
	}
}

const (
	// referenceFrame is the horizon the acceleration/jerk derivative is
	// sampled against.
	referenceFrame = "500ms"
	// correlationFrame is the horizon used for the cross-exchange
	// dispersion signal. The 500ms frame is too sparse to compare venues.
	correlationFrame = "10s"
)

type sample struct {
	ts    int64 // ms epoch
	value float64
}

// window is a plain sliding window over raw samples. Windowed statistics are
// simple count/sum folds, not exponential smoothing, so results are
// deterministic for a given event sequence.
type window struct {
	horizon time.Duration
	samples []sample
}

func newWindow(horizon time.Duration) *window {
	return &window{horizon: horizon, samples: make([]sample, 0, 16)}
}

func (w *window) add(ts int64, value float64) {
	w.samples = append(w.samples, sample{ts: ts, value: value})
}

// evict drops samples older than now-horizon. Samples arrive roughly in
// order, so this is a front trim.
func (w *window) evict(nowMs int64) {
	cutoff := nowMs - w.horizon.Milliseconds()
	i := 0
	for i < len(w.samples) && w.samples[i].ts < cutoff {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

func (w *window) stats() (count int, total float64) {
	for _, s := range w.samples {
		total += s.value
	}
	return len(w.samples), total
}

// FrameStats holds the derived scalars for one timeframe.
type FrameStats struct {
	Count          int     `json:"count"`
	TotalValue     float64 `json:"total_value"`
	EventVelocity  float64 `json:"event_velocity"`  // events per second
	VolumeVelocity float64 `json:"volume_velocity"` // USD per second
}

func frameStats(w *window) FrameStats {
	count, total := w.stats()
	secs := w.horizon.Seconds()
	if secs <= 0 {
		// zero-duration horizon short-circuits instead of dividing
		return FrameStats{Count: count, TotalValue: total}
	}
	return FrameStats{
		Count:          count,
		TotalValue:     total,
		EventVelocity:  float64(count) / secs,
		VolumeVelocity: total / secs,
	}
}

type histSample struct {
	ts           int64
	velocity     float64
	acceleration float64
}

// history is a small ring of (velocity, acceleration, timestamp) samples
// used to take the first differences for acceleration and jerk.
type history struct {
	samples []histSample
	head    int
	size    int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 100
	}
	return &history{samples: make([]histSample, capacity)}
}

func (h *history) push(s histSample) {
	h.samples[h.head] = s
	h.head = (h.head + 1) % len(h.samples)
	if h.size < len(h.samples) {
		h.size++
	}
}

// last returns the most recent sample.
func (h *history) last() (histSample, bool) {
	if h.size == 0 {
		return histSample{}, false
	}
	idx := (h.head - 1 + len(h.samples)) % len(h.samples)
	return h.samples[idx], true
}

func (h *history) len() int { return h.size }
