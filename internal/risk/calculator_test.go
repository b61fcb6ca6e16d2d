package risk

import (
	"math"
	"testing"
	"time"

	"cascadeflow/config"
	"cascadeflow/internal/models"
	"cascadeflow/internal/profile"
	"cascadeflow/internal/threshold"
)

func defaultRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		VolumeConcentrationWeight: 0.30,
		TimeCompressionWeight:     0.20,
		PriceConcentrationWeight:  0.20,
		SideImbalanceWeight:       0.15,
		InstitutionalWeight:       0.10,
		SessionWeight:             0.05,
		InstitutionalCutoffUSD:    500_000,
	}
}

func usThreshold(singleUSD float64) *threshold.Result {
	return &threshold.Result{
		Symbol:     "BTCUSDT",
		SingleUSD:  singleUSD,
		CascadeUSD: singleUSD * 5,
		Session:    threshold.SessionUS,
		Tier:       profile.Tier2,
	}
}

// cluster builds n events of the given side and per-event value, spread
// evenly across spanSeconds at prices near basePrice.
func cluster(n int, side models.Side, value, basePrice, spanSeconds float64) []models.LiquidationEvent {
	start := time.Date(2025, time.March, 5, 15, 0, 0, 0, time.UTC).UnixMilli()
	events := make([]models.LiquidationEvent, 0, n)
	step := int64(0)
	if n > 1 {
		step = int64(spanSeconds * 1000 / float64(n-1))
	}
	for i := 0; i < n; i++ {
		price := basePrice * (1 + 0.0001*float64(i))
		events = append(events, models.LiquidationEvent{
			Symbol:    "BTCUSDT",
			Exchange:  "binance",
			Side:      side,
			Price:     price,
			Quantity:  value / price,
			Value:     value,
			Timestamp: start + int64(i)*step,
		})
	}
	return events
}

func TestBuildClusterStats(t *testing.T) {
	events := cluster(6, models.SideLong, 50_000, 60_000, 18)
	s := BuildClusterStats(events, 500_000)

	if s.Count != 6 {
		t.Fatalf("count = %d, want 6", s.Count)
	}
	if math.Abs(s.TotalValue-300_000) > 1 {
		t.Fatalf("total value = %.0f, want 300000", s.TotalValue)
	}
	if s.LongCount != 6 || s.ShortCount != 0 {
		t.Fatalf("sides = %d long / %d short, want 6/0", s.LongCount, s.ShortCount)
	}
	if math.Abs(s.Duration-18) > 0.1 {
		t.Fatalf("duration = %.2f, want 18", s.Duration)
	}
	if s.LargeCount != 0 {
		t.Fatalf("large count = %d, want 0 at $50k events", s.LargeCount)
	}
}

func TestAssess_FlashCascadeScoresHigh(t *testing.T) {
	// Six $50k LONG liquidations in 18s against a $20k single threshold.
	c := NewCalculator(defaultRiskConfig())
	events := cluster(6, models.SideLong, 50_000, 60_000, 18)
	stats := BuildClusterStats(events, 500_000)

	a := c.Assess("BTCUSDT", stats, usThreshold(20_000))

	if a.Score <= 1.0 {
		t.Fatalf("score = %.3f, want > 1.0", a.Score)
	}
	if !a.Level.Actionable() {
		t.Fatalf("level = %s, want HIGH or EXTREME", a.Level)
	}
	if math.Abs(a.Factors.SideImbalance-1.0) > 1e-9 {
		t.Fatalf("side imbalance = %.3f, want 1.0 for all-LONG cluster", a.Factors.SideImbalance)
	}
	if a.DominantSide != models.SideLong {
		t.Fatalf("dominant side = %s, want LONG", a.DominantSide)
	}
	if a.EventCount != 6 || math.Abs(a.TotalValue-300_000) > 1 {
		t.Fatalf("cluster echo = %d events / %.0f USD", a.EventCount, a.TotalValue)
	}
}

func TestAssess_BalancedSlowClusterScoresLow(t *testing.T) {
	c := NewCalculator(defaultRiskConfig())
	longs := cluster(3, models.SideLong, 2_000, 60_000, 55)
	shorts := cluster(3, models.SideShort, 2_000, 60_000, 55)
	events := append(longs, shorts...)
	stats := BuildClusterStats(events, 500_000)

	a := c.Assess("BTCUSDT", stats, usThreshold(20_000))

	if a.Level.Actionable() {
		t.Fatalf("level = %s for a tiny balanced cluster, want below HIGH", a.Level)
	}
	if a.Factors.SideImbalance != 0 {
		t.Fatalf("side imbalance = %.3f, want 0 for balanced cluster", a.Factors.SideImbalance)
	}
	if a.DominantSide != models.SideUnknown {
		t.Fatalf("dominant side = %s, want UNKNOWN when tied", a.DominantSide)
	}
}

func TestAssess_ScoreMonotoneInClusterValue(t *testing.T) {
	c := NewCalculator(defaultRiskConfig())
	th := usThreshold(20_000)

	prev := -1.0
	for _, value := range []float64{1_000, 5_000, 20_000, 50_000, 200_000, 1_000_000} {
		stats := BuildClusterStats(cluster(6, models.SideLong, value, 60_000, 18), 500_000)
		score := c.Assess("BTCUSDT", stats, th).Score
		if score < prev {
			t.Fatalf("score %.3f dropped below %.3f when value grew to %.0f", score, prev, value)
		}
		prev = score
	}
}

func TestAssess_InstitutionalRatio(t *testing.T) {
	c := NewCalculator(defaultRiskConfig())
	big := cluster(2, models.SideLong, 600_000, 60_000, 10)
	small := cluster(2, models.SideLong, 10_000, 60_000, 10)
	stats := BuildClusterStats(append(big, small...), 500_000)

	a := c.Assess("BTCUSDT", stats, usThreshold(20_000))
	if math.Abs(a.Factors.Institutional-0.5) > 1e-9 {
		t.Fatalf("institutional ratio = %.3f, want 0.5", a.Factors.Institutional)
	}
}

func TestAssess_PriceConcentration(t *testing.T) {
	tight := BuildClusterStats(cluster(5, models.SideLong, 10_000, 60_000, 10), 500_000)
	if got := priceConcentration(tight); got < 0.95 {
		t.Fatalf("tight cluster price concentration = %.3f, want near 1", got)
	}

	// 20% price spread zeroes the factor.
	wide := tight
	wide.MinPrice = 50_000
	wide.MaxPrice = 60_000
	wide.AvgPrice = 55_000
	if got := priceConcentration(wide); got != 0 {
		t.Fatalf("wide cluster price concentration = %.3f, want 0", got)
	}
}

func TestAssess_DegenerateInputsScoreZero(t *testing.T) {
	if got := volumeConcentration(ClusterStats{TotalValue: 100}, &threshold.Result{}); got != 0 {
		t.Fatalf("zero cascade threshold must score 0, got %.3f", got)
	}
	if got := priceConcentration(ClusterStats{}); got != 0 {
		t.Fatalf("empty cluster price concentration = %.3f, want 0", got)
	}
	if got := sideImbalance(ClusterStats{}); got != 0 {
		t.Fatalf("empty cluster side imbalance = %.3f, want 0", got)
	}
}

func TestAssess_TimeCompressionCaps(t *testing.T) {
	if got := timeCompression(ClusterStats{Duration: 0.2}); got != factorCap {
		t.Fatalf("sub-second cluster = %.3f, want cap %.1f", got, factorCap)
	}
	if got := timeCompression(ClusterStats{Duration: 60}); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("60s cluster = %.3f, want 1.0", got)
	}
	if got := timeCompression(ClusterStats{Duration: 600}); math.Abs(got-0.1) > 1e-9 {
		t.Fatalf("600s cluster = %.3f, want 0.1", got)
	}
}

func TestLevelBoundaries(t *testing.T) {
	// Drive the composite with a single weighted factor to pin boundaries.
	cfg := defaultRiskConfig()
	c := NewCalculator(cfg)
	th := usThreshold(20_000)

	// All factors zero except session context.
	a := c.Assess("BTCUSDT", ClusterStats{Count: 3, Duration: 600, AvgPrice: 0}, th)
	if a.Level != LevelLow {
		t.Fatalf("near-zero composite level = %s, want LOW", a.Level)
	}
}
