package alert

import (
	"time"

	"github.com/google/uuid"

	"cascadeflow/internal/risk"
)

// Kind separates the independent alert categories for one symbol. A single
// large liquidation and a cascade for the same symbol never suppress each
// other.
type Kind string

const (
	KindSingle  Kind = "single"
	KindCascade Kind = "cascade"
)

// Alert is the fully computed payload handed to the notifier. Consumers
// never see a partial alert: it is built completely or not dispatched.
type Alert struct {
	ID           string       `json:"id"`
	Kind         Kind         `json:"kind"`
	Symbol       string       `json:"symbol"`
	Exchange     string       `json:"exchange,omitempty"`
	Score        float64      `json:"score,omitempty"`
	Level        string       `json:"level,omitempty"`
	Archetype    string       `json:"archetype,omitempty"`
	DominantSide string       `json:"dominant_side,omitempty"`
	EventCount   int          `json:"event_count,omitempty"`
	TotalValue   float64      `json:"total_value_usd,omitempty"`
	Duration     float64      `json:"duration_seconds,omitempty"`
	Correlation  float64      `json:"cross_exchange_correlation,omitempty"`
	Factors      risk.Factors `json:"factors,omitempty"`
	SingleValue  float64      `json:"single_value_usd,omitempty"`
	Price        float64      `json:"price,omitempty"`
	ThresholdUSD float64      `json:"threshold_usd"`
	Confidence   float64      `json:"threshold_confidence"`
	Timestamp    time.Time    `json:"timestamp"`
}

// FromAssessment builds a cascade alert out of a risk assessment and its
// classification. The correlation scalar rides along so responders can see
// whether the cascade spans venues.
func FromAssessment(a *risk.Assessment, archetype risk.Archetype, thresholdUSD, confidence, correlation float64) *Alert {
	return &Alert{
		ID:           uuid.NewString(),
		Kind:         KindCascade,
		Symbol:       a.Symbol,
		Score:        a.Score,
		Level:        a.Level.String(),
		Archetype:    archetype.String(),
		DominantSide: a.DominantSide.String(),
		EventCount:   a.EventCount,
		TotalValue:   a.TotalValue,
		Duration:     a.Duration,
		Correlation:  correlation,
		Factors:      a.Factors,
		ThresholdUSD: thresholdUSD,
		Confidence:   confidence,
		Timestamp:    a.AssessedAt,
	}
}

// NewSingle builds a single-liquidation alert for one oversized event.
func NewSingle(symbol, exchange, side string, value, price, thresholdUSD, confidence float64, at time.Time) *Alert {
	return &Alert{
		ID:           uuid.NewString(),
		Kind:         KindSingle,
		Symbol:       symbol,
		Exchange:     exchange,
		DominantSide: side,
		SingleValue:  value,
		Price:        price,
		ThresholdUSD: thresholdUSD,
		Confidence:   confidence,
		Timestamp:    at,
	}
}

// Key is the cooldown identity: one clock per (symbol, kind).
func (a *Alert) Key() string {
	return a.Symbol + "_" + string(a.Kind)
}
