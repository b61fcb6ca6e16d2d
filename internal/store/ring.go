package store

import (
	"time"

	"cascadeflow/internal/models"
)

// Aggregate summarizes the events inside a recency window.
type Aggregate struct {
	Count      int
	TotalValue float64
	LongCount  int
	ShortCount int
}

// Ring is a fixed-capacity buffer of compact liquidation records for one
// symbol. Append never fails; once full, the oldest record is overwritten.
// Bounded memory is the point, not best-effort caching.
//
// Ring is not safe for concurrent use. The cascade engine serializes access
// per symbol.
type Ring struct {
	symbol  string
	records []models.CompactRecord
	head    int // next write position
	size    int
}

func NewRing(symbol string, capacity int) *Ring {
	if capacity <= 0 {
		capacity = 500
	}
	return &Ring{
		symbol:  symbol,
		records: make([]models.CompactRecord, capacity),
	}
}

// Append stores the event's compact form, evicting the oldest record when
// the buffer is full. O(1).
func (r *Ring) Append(ev *models.LiquidationEvent) {
	r.records[r.head] = ev.Compact()
	r.head = (r.head + 1) % len(r.records)
	if r.size < len(r.records) {
		r.size++
	}
}

// Len returns the number of buffered records.
func (r *Ring) Len() int { return r.size }

// Capacity returns the fixed buffer capacity.
func (r *Ring) Capacity() int { return len(r.records) }

// Symbol returns the symbol this ring belongs to.
func (r *Ring) Symbol() string { return r.symbol }

// Recent returns decoded events with timestamp >= now-window, in arrival
// order oldest first. The scan covers the whole buffer: records sit in
// arrival order, which is non-decreasing per exchange stream but not across
// streams, so a late-stamped record from a reconnecting adapter may land
// after newer ones and must not mask them. The ring is small, the full pass
// stays O(capacity).
func (r *Ring) Recent(window time.Duration, now time.Time) []models.LiquidationEvent {
	if r.size == 0 {
		return nil
	}
	cutoff := uint32(now.Add(-window).Unix())

	// Walk backwards from the newest record, then reverse.
	matches := make([]models.LiquidationEvent, 0, 16)
	for i := 0; i < r.size; i++ {
		idx := (r.head - 1 - i + len(r.records)) % len(r.records)
		rec := r.records[idx]
		if rec.Unix < cutoff {
			continue
		}
		matches = append(matches, rec.Event(r.symbol))
	}

	for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
		matches[i], matches[j] = matches[j], matches[i]
	}
	return matches
}

// AggregateWindow folds count, total value and side counts over the same
// recency window Recent uses, with the same full-buffer scan.
func (r *Ring) AggregateWindow(window time.Duration, now time.Time) Aggregate {
	var agg Aggregate
	if r.size == 0 {
		return agg
	}
	cutoff := uint32(now.Add(-window).Unix())

	for i := 0; i < r.size; i++ {
		idx := (r.head - 1 - i + len(r.records)) % len(r.records)
		rec := r.records[idx]
		if rec.Unix < cutoff {
			continue
		}
		agg.Count++
		agg.TotalValue += float64(rec.ValueUSD)
		switch models.Side(rec.Side) {
		case models.SideLong:
			agg.LongCount++
		case models.SideShort:
			agg.ShortCount++
		}
	}
	return agg
}
