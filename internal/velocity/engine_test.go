package velocity

import (
	"math"
	"testing"
	"time"

	"cascadeflow/internal/models"
)

func liqEvent(symbol, exchange string, ts int64, value float64) *models.LiquidationEvent {
	price := 50000.0
	return &models.LiquidationEvent{
		Symbol:    symbol,
		Exchange:  exchange,
		Side:      models.SideLong,
		Price:     price,
		Quantity:  value / price,
		Value:     value,
		Timestamp: ts,
	}
}

func TestUpdate_VelocityNonNegative(t *testing.T) {
	eng := NewEngine(100)
	base := time.Now().UnixMilli()

	var snap Snapshot
	for i := 0; i < 20; i++ {
		snap = eng.Update(liqEvent("BTCUSDT", "binance", base+int64(i*137), 25000))
	}

	for name, frame := range snap.Frames {
		if frame.EventVelocity < 0 {
			t.Fatalf("frame %s: event velocity must be >= 0, got %f", name, frame.EventVelocity)
		}
		if frame.VolumeVelocity < 0 {
			t.Fatalf("frame %s: volume velocity must be >= 0, got %f", name, frame.VolumeVelocity)
		}
	}
}

func TestUpdate_WindowEviction(t *testing.T) {
	eng := NewEngine(100)
	base := int64(1_700_000_000_000)

	eng.Update(liqEvent("BTCUSDT", "binance", base, 1000))
	snap := eng.Update(liqEvent("BTCUSDT", "binance", base+5000, 1000))

	// 5 seconds apart: only the new event survives in the 2s frame, both in
	// the 10s and 60s frames.
	if got := snap.Frames["2s"].Count; got != 1 {
		t.Fatalf("expected 1 event in 2s frame, got %d", got)
	}
	if got := snap.Frames["10s"].Count; got != 2 {
		t.Fatalf("expected 2 events in 10s frame, got %d", got)
	}
	if got := snap.Frames["60s"].Count; got != 2 {
		t.Fatalf("expected 2 events in 60s frame, got %d", got)
	}
}

func TestUpdate_EventVelocityScaling(t *testing.T) {
	eng := NewEngine(100)
	base := int64(1_700_000_000_000)

	// 5 events inside 500ms: velocity on the 500ms frame should be 10/s.
	var snap Snapshot
	for i := 0; i < 5; i++ {
		snap = eng.Update(liqEvent("ETHUSDT", "binance", base+int64(i*100), 2000))
	}
	if v := snap.Frames["500ms"].EventVelocity; math.Abs(v-10) > 1e-9 {
		t.Fatalf("expected 10 events/s on 500ms frame, got %f", v)
	}
	if v := snap.Frames["500ms"].VolumeVelocity; math.Abs(v-20000) > 1e-9 {
		t.Fatalf("expected 20000 USD/s on 500ms frame, got %f", v)
	}
}

func TestUpdate_AccelerationFirstSampleIsZero(t *testing.T) {
	eng := NewEngine(100)
	snap := eng.Update(liqEvent("BTCUSDT", "binance", 1_700_000_000_000, 1000))
	if snap.Acceleration != 0 || snap.Jerk != 0 {
		t.Fatalf("expected zero derivatives on first sample, got a=%f j=%f", snap.Acceleration, snap.Jerk)
	}
}

func TestUpdate_AccelerationTracksVelocityChange(t *testing.T) {
	eng := NewEngine(100)
	base := int64(1_700_000_000_000)

	eng.Update(liqEvent("BTCUSDT", "binance", base, 1000))
	// 100ms later the 500ms window holds 2 events: velocity rose 2/s -> 4/s.
	snap := eng.Update(liqEvent("BTCUSDT", "binance", base+100, 1000))

	if snap.Acceleration <= 0 {
		t.Fatalf("expected positive acceleration on a burst, got %f", snap.Acceleration)
	}
	// a = (4 - 2) / 0.1
	if math.Abs(snap.Acceleration-20) > 1e-9 {
		t.Fatalf("expected acceleration 20, got %f", snap.Acceleration)
	}
}

func TestUpdate_JerkTracksAccelerationChange(t *testing.T) {
	eng := NewEngine(100)
	base := int64(1_700_000_000_000)

	eng.Update(liqEvent("BTCUSDT", "binance", base, 1000))

	// Second event 100ms in: 500ms velocity 2/s -> 4/s, so a = 20 from a
	// prior a = 0, and j = (20 - 0) / 0.1 = 200.
	snap := eng.Update(liqEvent("BTCUSDT", "binance", base+100, 1000))
	if math.Abs(snap.Jerk-200) > 1e-9 {
		t.Fatalf("expected jerk 200 at acceleration onset, got %f", snap.Jerk)
	}

	// Third event at the same cadence keeps a = 20: jerk returns to zero.
	snap = eng.Update(liqEvent("BTCUSDT", "binance", base+200, 1000))
	if math.Abs(snap.Jerk) > 1e-9 {
		t.Fatalf("expected zero jerk under steady acceleration, got %f", snap.Jerk)
	}

	// A long gap drains the window: acceleration flips negative and the
	// jerk against the prior a = 20 is negative too.
	snap = eng.Update(liqEvent("BTCUSDT", "binance", base+3200, 1000))
	if snap.Acceleration >= 0 {
		t.Fatalf("expected negative acceleration after the gap, got %f", snap.Acceleration)
	}
	if snap.Jerk >= 0 {
		t.Fatalf("expected negative jerk when the burst decays, got %f", snap.Jerk)
	}
}

func TestUpdate_NegativeAccelerationOnCooloff(t *testing.T) {
	eng := NewEngine(100)
	base := int64(1_700_000_000_000)

	for i := 0; i < 5; i++ {
		eng.Update(liqEvent("BTCUSDT", "binance", base+int64(i*50), 1000))
	}
	// Long gap: the 500ms window drains to one event.
	snap := eng.Update(liqEvent("BTCUSDT", "binance", base+3000, 1000))
	if snap.Acceleration >= 0 {
		t.Fatalf("expected negative acceleration after cooloff, got %f", snap.Acceleration)
	}
}

func TestCorrelation_RequiresTwoLiveExchanges(t *testing.T) {
	eng := NewEngine(100)
	base := int64(1_700_000_000_000)

	snap := eng.Update(liqEvent("BTCUSDT", "binance", base, 1000))
	if snap.Correlation != 0 {
		t.Fatalf("single venue must yield zero correlation, got %f", snap.Correlation)
	}
}

func TestCorrelation_BalancedVenuesScoreHigh(t *testing.T) {
	eng := NewEngine(100)
	base := int64(1_700_000_000_000)

	// Equal velocity on both venues: zero dispersion, correlation 1.
	var snap Snapshot
	for i := 0; i < 4; i++ {
		eng.Update(liqEvent("BTCUSDT", "binance", base+int64(i*200), 1000))
		snap = eng.Update(liqEvent("BTCUSDT", "bybit", base+int64(i*200)+50, 1000))
	}
	if math.Abs(snap.Correlation-1) > 1e-9 {
		t.Fatalf("expected correlation 1 for balanced venues, got %f", snap.Correlation)
	}
}

func TestCorrelation_LopsidedVenuesScoreLow(t *testing.T) {
	eng := NewEngine(100)
	base := int64(1_700_000_000_000)

	eng.Update(liqEvent("BTCUSDT", "bybit", base, 1000))
	var snap Snapshot
	for i := 0; i < 20; i++ {
		snap = eng.Update(liqEvent("BTCUSDT", "binance", base+int64(i*100), 1000))
	}
	// velocities 2.0 vs 0.1: variance/mean^2 well above 0.8
	if snap.Correlation > 0.25 {
		t.Fatalf("expected low correlation for lopsided venues, got %f", snap.Correlation)
	}
}

func TestRemove_DropsState(t *testing.T) {
	eng := NewEngine(100)
	eng.Update(liqEvent("BTCUSDT", "binance", 1_700_000_000_000, 1000))
	eng.Update(liqEvent("ETHUSDT", "binance", 1_700_000_000_000, 1000))
	if eng.Symbols() != 2 {
		t.Fatalf("expected 2 tracked symbols, got %d", eng.Symbols())
	}
	eng.Remove("BTCUSDT")
	if eng.Symbols() != 1 {
		t.Fatalf("expected 1 tracked symbol after removal, got %d", eng.Symbols())
	}
}

func TestHistory_RingBounded(t *testing.T) {
	h := newHistory(10)
	for i := 0; i < 50; i++ {
		h.push(histSample{ts: int64(i)})
	}
	if h.len() != 10 {
		t.Fatalf("expected history bounded at 10, got %d", h.len())
	}
	last, ok := h.last()
	if !ok || last.ts != 49 {
		t.Fatalf("expected most recent sample ts=49, got %+v ok=%v", last, ok)
	}
}
