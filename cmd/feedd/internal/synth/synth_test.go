package synth

import (
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/tradebro/marketfeed/pkg/models"
)

func TestSynthesize_StableWithinBucket(t *testing.T) {
	g := New(time.Minute)
	base := time.Unix(10_000, 0)
	g.now = func() time.Time { return base }

	first := g.Synthesize("TSLA", "user-1")

	g.now = func() time.Time { return base.Add(20 * time.Second) }
	second := g.Synthesize("TSLA", "user-1")

	if first.Price != second.Price {
		t.Errorf("Same bucket should return identical price: %f vs %f", first.Price, second.Price)
	}
	if first.Change != second.Change || first.Volume != second.Volume {
		t.Error("Same bucket should return the identical quote")
	}
}

func TestSynthesize_WalksAcrossBuckets(t *testing.T) {
	g := New(time.Minute)
	base := time.Unix(10_000, 0)
	g.now = func() time.Time { return base }

	first := g.Synthesize("TSLA", "user-1")

	g.now = func() time.Time { return base.Add(2 * time.Minute) }
	second := g.Synthesize("TSLA", "user-1")

	driftPct := math.Abs(second.Price-first.Price) / first.Price * 100
	if driftPct > maxDriftPercent+0.01 {
		t.Errorf("Drift %f%% exceeds bound", driftPct)
	}
}

func TestSynthesize_BaseReproducible(t *testing.T) {
	a := New(time.Minute)
	b := New(time.Minute)
	now := time.Unix(99_999, 0)
	a.now = func() time.Time { return now }
	b.now = func() time.Time { return now }

	qa := a.Synthesize("RELIANCE.NS", "u1")
	qb := b.Synthesize("RELIANCE.NS", "u1")
	if qa.Price != qb.Price {
		t.Errorf("Independent generators must agree for the same key: %f vs %f", qa.Price, qb.Price)
	}
}

func TestSynthesize_PersonalizedPerUser(t *testing.T) {
	g := New(time.Minute)
	g.now = func() time.Time { return time.Unix(50_000, 0) }

	q1 := g.Synthesize("INFY.NS", "user-1")
	q2 := g.Synthesize("INFY.NS", "user-2")

	// Same starting neighborhood, personalized drift.
	if q1.Price == q2.Price && q1.Change == q2.Change && q1.Volume == q2.Volume {
		t.Error("Different users should see different walks")
	}
}

func TestSynthesize_SubSecondWindow(t *testing.T) {
	g := New(50 * time.Millisecond)
	g.now = func() time.Time { return time.Unix(10_000, 0) }

	q := g.Synthesize("TSLA", "user-1")
	if q.Price <= 0 {
		t.Errorf("Sub-second window must still produce a valid quote, got %+v", q)
	}
	again := g.Synthesize("TSLA", "user-1")
	if q.Price != again.Price {
		t.Error("Sub-second window should still be deterministic within a bucket")
	}
}

func TestSynthesize_WalkMemoryBounded(t *testing.T) {
	g := New(time.Minute)
	g.now = func() time.Time { return time.Unix(10_000, 0) }

	for i := 0; i < walkCapacity+100; i++ {
		g.Synthesize("SYM"+string(rune('A'+i%26)), "user-"+strconv.Itoa(i))
	}

	if g.Len() > walkCapacity {
		t.Errorf("Walk memory exceeded its bound: %d entries", g.Len())
	}

	// An evicted key re-derives the same deterministic quote for its bucket.
	first := g.Synthesize("FRESH", "u-evicted")
	second := g.Synthesize("FRESH", "u-evicted")
	if first.Price != second.Price {
		t.Error("Re-derived walk must stay deterministic")
	}
}

func TestSynthesize_WellFormed(t *testing.T) {
	g := New(time.Minute)
	q := g.Synthesize("hdfcbank.bo ", "")

	if q.Symbol != "HDFCBANK.BO" {
		t.Errorf("Symbol not normalized: %q", q.Symbol)
	}
	if q.Price <= 0 {
		t.Errorf("Price must be positive, got %f", q.Price)
	}
	if q.DayHigh < q.DayLow {
		t.Errorf("DayHigh %f below DayLow %f", q.DayHigh, q.DayLow)
	}
	if q.Volume <= 0 {
		t.Error("Volume must be positive")
	}
	if q.Source != models.SourceSynthetic {
		t.Errorf("Expected synthetic source, got %s", q.Source)
	}

	// changePercent ~= change / (price - change) * 100 within rounding tolerance
	prev := q.Price - q.Change
	if prev > 0 {
		want := q.Change / prev * 100
		if math.Abs(want-q.ChangePercent) > 0.05 {
			t.Errorf("changePercent %f inconsistent with change %f (want ~%f)", q.ChangePercent, q.Change, want)
		}
	}
}
