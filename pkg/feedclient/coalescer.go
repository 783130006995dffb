package feedclient

import (
	"sync"
	"time"

	"github.com/tradebro/marketfeed/pkg/models"
)

// DefaultDebounceWindow bounds update frequency independent of tick rate.
const DefaultDebounceWindow = 50 * time.Millisecond

type pendingUpdate struct {
	tick  models.Tick
	quote *models.Quote // set when the update came with full quote fields
}

// Coalescer batches inbound ticks: updates arriving within one debounce
// window are merged last-write-wins per symbol and published as a single
// table update. Enqueue and the timer restart are atomic under one lock, so a
// flush always drains a consistent queue and no two flushes run concurrently.
type Coalescer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]pendingUpdate
	timer   *time.Timer
	closed  bool

	flushMu sync.Mutex
	table   *Table
	onFlush func([]LivePriceEntry)

	now func() time.Time
}

// NewCoalescer wires the coalescer to its table. onFlush may be nil; when set
// it receives each published batch exactly once.
func NewCoalescer(table *Table, window time.Duration, onFlush func([]LivePriceEntry)) *Coalescer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Coalescer{
		window:  window,
		pending: make(map[string]pendingUpdate),
		table:   table,
		onFlush: onFlush,
		now:     time.Now,
	}
}

// Enqueue buffers one tick and restarts the debounce timer.
func (c *Coalescer) Enqueue(t models.Tick) {
	sym := models.NormalizeSymbol(t.Symbol)
	if sym == "" {
		return
	}
	t.Symbol = sym

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending[sym] = pendingUpdate{tick: t}
	c.restartTimerLocked()
}

// EnqueueQuote buffers a full quote (the polling path), keeping the richer
// fields alongside the price.
func (c *Coalescer) EnqueueQuote(q models.Quote) {
	sym := models.NormalizeSymbol(q.Symbol)
	if sym == "" {
		return
	}
	q.Symbol = sym

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending[sym] = pendingUpdate{tick: q.Tick(0), quote: &q}
	c.restartTimerLocked()
}

func (c *Coalescer) restartTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, c.Flush)
}

// Flush publishes the pending batch. A flush with an empty queue is a no-op.
func (c *Coalescer) Flush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	drained := c.pending
	c.pending = make(map[string]pendingUpdate)
	c.mu.Unlock()

	now := c.now()
	batch := make([]LivePriceEntry, 0, len(drained))
	for sym, upd := range drained {
		entry := LivePriceEntry{LastUpdated: now}

		prev, known := c.table.Get(sym)
		if known {
			entry.Quote = prev.Quote
			entry.PreviousPrice = prev.Price
			entry.Direction = models.DirectionOf(upd.tick.Price, prev.Price)
		} else {
			entry.PreviousPrice = upd.tick.Price
			entry.Direction = models.DirectionSame
		}

		if upd.quote != nil {
			entry.Quote = *upd.quote
		}
		entry.Symbol = sym
		entry.Price = upd.tick.Price
		if upd.tick.Volume > 0 {
			entry.Volume = upd.tick.Volume
		}
		if upd.tick.Timestamp > 0 {
			entry.FetchedAt = upd.tick.Timestamp
		}

		batch = append(batch, entry)
	}

	c.table.applyBatch(batch)
	if c.onFlush != nil {
		c.onFlush(batch)
	}
}

// Close stops the timer; pending updates are dropped.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = make(map[string]pendingUpdate)
}
