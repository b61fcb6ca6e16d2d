package models

import (
	"hash/fnv"
	"math"
)

// CompactRecord is the memory-dense encoding used by the per-symbol ring
// buffers: scaled integers instead of floats, unix seconds instead of
// milliseconds, and a 32-bit non-reversible symbol hash. Roughly 18 bytes of
// payload per event, which keeps even a thousand-symbol deployment inside a
// few megabytes of buffer memory.
//
// The hash is a lookup key into the symbols side table, never the symbol
// itself. Decoding reattaches the symbol string supplied by the ring owner.
type CompactRecord struct {
	SymbolHash uint32
	Unix       uint32 // unix seconds
	PriceE2    uint32 // price * 100
	QtyE6      uint32 // quantity * 1_000_000, saturating
	ValueUSD   uint32 // whole dollars, saturating
	Side       uint8
}

const (
	priceScale = 100
	qtyScale   = 1_000_000
)

// HashSymbol derives the 32-bit FNV-1a key used in compact records.
func HashSymbol(symbol string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return h.Sum32()
}

func saturateU32(v float64) uint32 {
	if v <= 0 {
		return 0
	}
	if v >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

// Compact encodes the event. Sub-cent price precision and micro-unit
// quantity precision are dropped on purpose.
func (e *LiquidationEvent) Compact() CompactRecord {
	return CompactRecord{
		SymbolHash: HashSymbol(e.Symbol),
		Unix:       saturateU32(float64(e.Timestamp) / 1000),
		PriceE2:    saturateU32(e.Price*priceScale + 0.5),
		QtyE6:      saturateU32(e.Quantity*qtyScale + 0.5),
		ValueUSD:   saturateU32(e.Value + 0.5),
		Side:       uint8(e.Side),
	}
}

// Event rebuilds an approximate canonical event. The symbol string comes
// from the caller (the ring owner knows it); the exchange is not retained in
// the compact form.
func (r CompactRecord) Event(symbol string) LiquidationEvent {
	return LiquidationEvent{
		Symbol:    symbol,
		Exchange:  "aggregate",
		Side:      Side(r.Side),
		Price:     float64(r.PriceE2) / priceScale,
		Quantity:  float64(r.QtyE6) / qtyScale,
		Value:     float64(r.ValueUSD),
		Timestamp: int64(r.Unix) * 1000,
	}
}
