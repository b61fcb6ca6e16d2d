package models

import (
	"fmt"
	"math"
	"time"
)

// Side identifies which side of a leveraged position was force-closed.
type Side uint8

const (
	SideUnknown Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// RawLiquidationMessage represents a raw liquidation payload captured from an
// exchange specific stream. It keeps the raw JSON payload together with
// metadata that allows the processor to route the event to the right
// normalizer.
type RawLiquidationMessage struct {
	Exchange  string
	Symbol    string
	Data      []byte
	Timestamp time.Time
}

// LiquidationEvent is the canonical event every adapter translates into
// before the core pipeline sees it. Immutable once created.
type LiquidationEvent struct {
	Symbol    string
	Exchange  string
	Side      Side
	Price     float64
	Quantity  float64
	Value     float64 // USD notional
	Timestamp int64   // millisecond epoch
	Leverage  float64 // estimated, 0 when unknown
}

// valueTolerance bounds the accepted drift between the reported notional and
// price*quantity. Exchanges round independently, so a small relative error is
// normal.
const valueTolerance = 0.01

// Validate checks the canonical invariants. A failing event is rejected and
// counted, never processed.
func (e *LiquidationEvent) Validate() error {
	if e.Symbol == "" {
		return fmt.Errorf("liquidation event missing symbol")
	}
	if e.Exchange == "" {
		return fmt.Errorf("liquidation event missing exchange")
	}
	if e.Side != SideLong && e.Side != SideShort {
		return fmt.Errorf("liquidation event has invalid side %d", e.Side)
	}
	if e.Price <= 0 || math.IsNaN(e.Price) || math.IsInf(e.Price, 0) {
		return fmt.Errorf("liquidation event has invalid price %f", e.Price)
	}
	if e.Quantity <= 0 || math.IsNaN(e.Quantity) || math.IsInf(e.Quantity, 0) {
		return fmt.Errorf("liquidation event has invalid quantity %f", e.Quantity)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("liquidation event has invalid timestamp %d", e.Timestamp)
	}

	expected := e.Price * e.Quantity
	drift := math.Abs(e.Value - expected)
	if drift > math.Max(1.0, expected*valueTolerance) {
		return fmt.Errorf("liquidation event value %.2f inconsistent with price*quantity %.2f", e.Value, expected)
	}
	return nil
}

// Time returns the event timestamp as time.Time.
func (e *LiquidationEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}
