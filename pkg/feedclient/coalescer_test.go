package feedclient

import (
	"sync"
	"testing"
	"time"

	"github.com/tradebro/marketfeed/pkg/models"
)

type flushSpy struct {
	mu      sync.Mutex
	batches [][]LivePriceEntry
}

func (f *flushSpy) record(batch []LivePriceEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
}

func (f *flushSpy) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestCoalescer_LastWriteWinsWithinWindow(t *testing.T) {
	table := NewTable()
	spy := &flushSpy{}
	c := NewCoalescer(table, 50*time.Millisecond, spy.record)
	defer c.Close()

	// Seed the table so direction has a baseline.
	table.applyBatch([]LivePriceEntry{{Quote: models.Quote{Symbol: "X", Price: 10}}})

	c.Enqueue(models.Tick{Symbol: "X", Price: 10})
	time.Sleep(5 * time.Millisecond)
	c.Enqueue(models.Tick{Symbol: "X", Price: 11})
	time.Sleep(3 * time.Millisecond)
	c.Enqueue(models.Tick{Symbol: "X", Price: 9})

	time.Sleep(120 * time.Millisecond)

	if spy.count() != 1 {
		t.Fatalf("Expected exactly one flush, got %d", spy.count())
	}
	entry, ok := table.Get("X")
	if !ok {
		t.Fatal("Entry missing")
	}
	if entry.Price != 9 {
		t.Errorf("Expected last-enqueued price 9, got %f", entry.Price)
	}
	if entry.Direction != models.DirectionDown {
		t.Errorf("Expected direction down vs pre-flush price 10, got %s", entry.Direction)
	}
	if entry.PreviousPrice != 10 {
		t.Errorf("Expected previous price 10, got %f", entry.PreviousPrice)
	}
}

func TestCoalescer_EmptyFlushIsNoop(t *testing.T) {
	table := NewTable()
	spy := &flushSpy{}
	c := NewCoalescer(table, 10*time.Millisecond, spy.record)
	defer c.Close()

	c.Flush()
	c.Flush()

	if spy.count() != 0 {
		t.Errorf("Empty flushes must not publish, got %d", spy.count())
	}
}

func TestCoalescer_DirectionSameForEqualFloats(t *testing.T) {
	table := NewTable()
	c := NewCoalescer(table, 5*time.Millisecond, nil)
	defer c.Close()

	c.Enqueue(models.Tick{Symbol: "EQ", Price: 123.45})
	c.Flush()
	c.Enqueue(models.Tick{Symbol: "EQ", Price: 123.45})
	c.Flush()

	entry, _ := table.Get("EQ")
	if entry.Direction != models.DirectionSame {
		t.Errorf("Equal prices must be 'same', got %s", entry.Direction)
	}
}

func TestCoalescer_FirstTickHasNoDirection(t *testing.T) {
	table := NewTable()
	c := NewCoalescer(table, 5*time.Millisecond, nil)
	defer c.Close()

	c.Enqueue(models.Tick{Symbol: "NEW", Price: 42})
	c.Flush()

	entry, ok := table.Get("NEW")
	if !ok {
		t.Fatal("Entry missing")
	}
	if entry.Direction != models.DirectionSame || entry.PreviousPrice != 42 {
		t.Errorf("First sighting should be neutral: %+v", entry)
	}
}

func TestCoalescer_MergesPerSymbol(t *testing.T) {
	table := NewTable()
	spy := &flushSpy{}
	c := NewCoalescer(table, 20*time.Millisecond, spy.record)
	defer c.Close()

	c.Enqueue(models.Tick{Symbol: "A", Price: 1})
	c.Enqueue(models.Tick{Symbol: "B", Price: 2})
	c.Enqueue(models.Tick{Symbol: "A", Price: 3})
	c.Flush()

	if spy.count() != 1 {
		t.Fatalf("Expected one flush, got %d", spy.count())
	}
	if len(spy.batches[0]) != 2 {
		t.Errorf("Expected 2 merged entries, got %d", len(spy.batches[0]))
	}
	a, _ := table.Get("A")
	if a.Price != 3 {
		t.Errorf("Expected latest price for A, got %f", a.Price)
	}
}

func TestCoalescer_QuotePathKeepsRichFields(t *testing.T) {
	table := NewTable()
	c := NewCoalescer(table, 5*time.Millisecond, nil)
	defer c.Close()

	c.EnqueueQuote(models.Quote{Symbol: "AAPL", Price: 180, ChangePercent: 1.2, Source: "provider1", FetchedAt: 99})
	c.Flush()

	entry, _ := table.Get("AAPL")
	if entry.ChangePercent != 1.2 || entry.Source != "provider1" {
		t.Errorf("Quote fields should survive the flush: %+v", entry)
	}
}

func TestCoalescer_EnqueueAfterCloseIsDropped(t *testing.T) {
	table := NewTable()
	c := NewCoalescer(table, 5*time.Millisecond, nil)
	c.Close()

	c.Enqueue(models.Tick{Symbol: "X", Price: 1})
	c.Flush()

	if table.Len() != 0 {
		t.Error("Nothing should be published after Close")
	}
}
