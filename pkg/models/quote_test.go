package models

import "testing"

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"aapl":        "AAPL",
		"  tsla  ":    "TSLA",
		"reliance.ns": "RELIANCE.NS",
		"":            "",
	}
	for in, want := range cases {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDirectionOf(t *testing.T) {
	if DirectionOf(101, 100) != DirectionUp {
		t.Error("Higher price must be up")
	}
	if DirectionOf(99, 100) != DirectionDown {
		t.Error("Lower price must be down")
	}
	if DirectionOf(100, 100) != DirectionSame {
		t.Error("Equal price must be same")
	}
}

func TestIsRegional(t *testing.T) {
	if !IsRegional("RELIANCE.NS") || !IsRegional("TATASTEEL.BO") {
		t.Error("NSE/BSE suffixes are regional")
	}
	if IsRegional("AAPL") || IsRegional("BRK.B") {
		t.Error("Plain and class-share symbols are not regional")
	}
}

func TestQuoteTick(t *testing.T) {
	q := Quote{Symbol: "AAPL", Price: 180.5, Volume: 1200, FetchedAt: 99}
	tick := q.Tick(7)
	if tick.Symbol != "AAPL" || tick.Price != 180.5 || tick.Volume != 1200 {
		t.Errorf("Tick lost fields: %+v", tick)
	}
	if tick.Timestamp != 99 || tick.SeqID != 7 {
		t.Errorf("Tick metadata wrong: %+v", tick)
	}
}
