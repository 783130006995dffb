// Package feedclient is the client half of the feed pipeline: it keeps a live
// price table fed by the streaming gateway with a polling safety net, batches
// inbound ticks through a debounced coalescer, and exposes snapshot reads and
// derived P&L helpers to UI consumers.
package feedclient

import (
	"sync"
	"time"

	"github.com/tradebro/marketfeed/pkg/models"
)

// LivePriceEntry is one row of the live table. UI code reads copies; only the
// coalescer's flush writes.
type LivePriceEntry struct {
	models.Quote
	PreviousPrice float64
	Direction     models.PriceDirection
	LastUpdated   time.Time
}

// Table holds the live prices. All reads are snapshot reads.
type Table struct {
	mu      sync.RWMutex
	entries map[string]LivePriceEntry
}

func NewTable() *Table {
	return &Table{entries: make(map[string]LivePriceEntry)}
}

// Get returns a copy of one entry.
func (t *Table) Get(symbol string) (LivePriceEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[models.NormalizeSymbol(symbol)]
	return e, ok
}

// Snapshot returns a copy of the whole table.
func (t *Table) Snapshot() map[string]LivePriceEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]LivePriceEntry, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// applyBatch is the single write path, owned by the coalescer.
func (t *Table) applyBatch(batch []LivePriceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range batch {
		t.entries[e.Symbol] = e
	}
}
