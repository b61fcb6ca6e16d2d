package risk

import (
	"math"
	"time"

	"cascadeflow/config"
	"cascadeflow/internal/models"
	"cascadeflow/internal/threshold"
)

// Level is the discrete cascade risk classification.
type Level int

const (
	LevelLow Level = iota
	LevelModerate
	LevelHigh
	LevelExtreme
)

func (l Level) String() string {
	switch l {
	case LevelExtreme:
		return "EXTREME"
	case LevelHigh:
		return "HIGH"
	case LevelModerate:
		return "MODERATE"
	default:
		return "LOW"
	}
}

// Actionable reports whether the level is strong enough to alert on.
func (l Level) Actionable() bool {
	return l >= LevelHigh
}

// MinClusterSize is the smallest cluster worth scoring. Below this the
// calculator is never invoked.
const MinClusterSize = 3

// Factors is the per-factor score breakdown, kept on the assessment for
// explainability.
type Factors struct {
	VolumeConcentration float64 `json:"volume_concentration"`
	TimeCompression     float64 `json:"time_compression"`
	PriceConcentration  float64 `json:"price_concentration"`
	SideImbalance       float64 `json:"side_imbalance"`
	Institutional       float64 `json:"institutional"`
	SessionContext      float64 `json:"session_context"`
}

// Assessment is the composite cascade risk verdict for one cluster.
type Assessment struct {
	Symbol       string      `json:"symbol"`
	Score        float64     `json:"score"`
	Level        Level       `json:"-"`
	LevelName    string      `json:"level"`
	Factors      Factors     `json:"factors"`
	DominantSide models.Side `json:"dominant_side"`
	Duration     float64     `json:"duration_seconds"`
	EventCount   int         `json:"event_count"`
	TotalValue   float64     `json:"total_value_usd"`
	AssessedAt   time.Time   `json:"assessed_at"`
}

// ClusterStats are the precomputed aggregates a cluster is scored on.
type ClusterStats struct {
	Count      int
	TotalValue float64
	LongCount  int
	ShortCount int
	MinPrice   float64
	MaxPrice   float64
	AvgPrice   float64
	Duration   float64 // seconds, first to last event
	LargeCount int     // events at or above the institutional cutoff
}

// BuildClusterStats folds a chronologically ordered event slice into the
// aggregates the calculator needs. The institutional cutoff is applied here
// so the calculator itself stays pure arithmetic.
func BuildClusterStats(events []models.LiquidationEvent, institutionalCutoffUSD float64) ClusterStats {
	var s ClusterStats
	if len(events) == 0 {
		return s
	}
	s.Count = len(events)
	s.MinPrice = events[0].Price
	s.MaxPrice = events[0].Price
	var priceSum float64
	var minTS, maxTS int64
	minTS = events[0].Timestamp
	maxTS = events[0].Timestamp
	for i := range events {
		ev := &events[i]
		s.TotalValue += ev.Value
		priceSum += ev.Price
		switch ev.Side {
		case models.SideLong:
			s.LongCount++
		case models.SideShort:
			s.ShortCount++
		}
		if ev.Price < s.MinPrice {
			s.MinPrice = ev.Price
		}
		if ev.Price > s.MaxPrice {
			s.MaxPrice = ev.Price
		}
		if ev.Timestamp < minTS {
			minTS = ev.Timestamp
		}
		if ev.Timestamp > maxTS {
			maxTS = ev.Timestamp
		}
		if institutionalCutoffUSD > 0 && ev.Value >= institutionalCutoffUSD {
			s.LargeCount++
		}
	}
	s.AvgPrice = priceSum / float64(len(events))
	s.Duration = float64(maxTS-minTS) / 1000.0
	return s
}

// Calculator scores event clusters against dynamic thresholds. Stateless
// apart from its configuration, safe for concurrent use.
type Calculator struct {
	cfg config.RiskConfig
	now func() time.Time
}

func NewCalculator(cfg config.RiskConfig) *Calculator {
	return &Calculator{cfg: cfg, now: time.Now}
}

// SetNow overrides the calculator clock. Test hook.
func (c *Calculator) SetNow(now func() time.Time) {
	c.now = now
}

// factorCap bounds the unnormalized factors (volume, time compression) so a
// single monster cluster cannot dominate the composite unboundedly.
const factorCap = 2.0

// Assess combines the six weighted factors into a composite score and level.
// A factor whose inputs are degenerate (zero threshold, single price point)
// scores 0 rather than poisoning the whole assessment.
func (c *Calculator) Assess(symbol string, stats ClusterStats, th *threshold.Result) *Assessment {
	f := Factors{
		VolumeConcentration: volumeConcentration(stats, th),
		TimeCompression:     timeCompression(stats),
		PriceConcentration:  priceConcentration(stats),
		SideImbalance:       sideImbalance(stats),
		Institutional:       institutionalRatio(stats),
		SessionContext:      th.Session.RiskScore(),
	}

	score := f.VolumeConcentration*c.cfg.VolumeConcentrationWeight +
		f.TimeCompression*c.cfg.TimeCompressionWeight +
		f.PriceConcentration*c.cfg.PriceConcentrationWeight +
		f.SideImbalance*c.cfg.SideImbalanceWeight +
		f.Institutional*c.cfg.InstitutionalWeight +
		f.SessionContext*c.cfg.SessionWeight

	level := LevelLow
	switch {
	case score > 1.5:
		level = LevelExtreme
	case score > 1.0:
		level = LevelHigh
	case score > 0.7:
		level = LevelModerate
	}

	return &Assessment{
		Symbol:       symbol,
		Score:        score,
		Level:        level,
		LevelName:    level.String(),
		Factors:      f,
		DominantSide: dominantSide(stats),
		Duration:     stats.Duration,
		EventCount:   stats.Count,
		TotalValue:   stats.TotalValue,
		AssessedAt:   c.now(),
	}
}

// volumeConcentration is cluster USD over the cascade threshold, capped.
func volumeConcentration(stats ClusterStats, th *threshold.Result) float64 {
	if th == nil || th.CascadeUSD <= 0 {
		return 0
	}
	return math.Min(factorCap, stats.TotalValue/th.CascadeUSD)
}

// timeCompression scores faster clustering higher: 60s over the cluster
// duration, with sub-second clusters pinned to the cap.
func timeCompression(stats ClusterStats) float64 {
	return math.Min(factorCap, 60.0/math.Max(1.0, stats.Duration))
}

// priceConcentration rewards liquidations bunched at similar price levels.
func priceConcentration(stats ClusterStats) float64 {
	if stats.AvgPrice <= 0 {
		return 0
	}
	spread := (stats.MaxPrice - stats.MinPrice) / stats.AvgPrice
	return math.Max(0, 1-10*spread)
}

// sideImbalance is 1.0 for a fully one-sided cluster, 0 for balanced.
func sideImbalance(stats ClusterStats) float64 {
	if stats.Count == 0 {
		return 0
	}
	return math.Abs(float64(stats.LongCount-stats.ShortCount)) / float64(stats.Count)
}

// institutionalRatio is the fraction of cluster events at institutional size.
func institutionalRatio(stats ClusterStats) float64 {
	if stats.Count == 0 {
		return 0
	}
	return float64(stats.LargeCount) / float64(stats.Count)
}

func dominantSide(stats ClusterStats) models.Side {
	switch {
	case stats.LongCount > stats.ShortCount:
		return models.SideLong
	case stats.ShortCount > stats.LongCount:
		return models.SideShort
	default:
		return models.SideUnknown
	}
}
