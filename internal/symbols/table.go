package symbols

import (
	"sync"

	"cascadeflow/internal/models"
	"cascadeflow/logger"
)

// Table maps the 32-bit symbol hash used in compact records back to the
// canonical symbol string. The hash is non-reversible, so every adapter
// registers the symbols it streams before the first event flows.
//
// Collisions keep the first registered mapping; the later symbol stays fully
// functional in the live pipeline (rings are keyed by symbol string, not by
// hash) but its archived compact records would resolve to the earlier
// symbol, so collisions are counted and logged loudly.
type Table struct {
	mu         sync.RWMutex
	byHash     map[uint32]string
	collisions int64
	log        *logger.Log
}

func NewTable() *Table {
	return &Table{
		byHash: make(map[uint32]string, 256),
		log:    logger.GetLogger(),
	}
}

// Register records the hash→symbol mapping and reports whether the symbol
// now owns its hash.
func (t *Table) Register(symbol string) bool {
	hash := models.HashSymbol(symbol)

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.byHash[hash]
	if !ok {
		t.byHash[hash] = symbol
		return true
	}
	if existing == symbol {
		return true
	}

	t.collisions++
	t.log.WithComponent("symbol_table").WithFields(logger.Fields{
		"hash":     hash,
		"existing": existing,
		"symbol":   symbol,
	}).Warn("symbol hash collision, keeping first registration")
	return false
}

// Resolve returns the canonical symbol for a hash.
func (t *Table) Resolve(hash uint32) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sym, ok := t.byHash[hash]
	return sym, ok
}

// Len returns the number of registered symbols.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byHash)
}

// Collisions returns the number of rejected registrations.
func (t *Table) Collisions() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.collisions
}
