package models

import (
	"strings"
	"time"
)

// SourceSynthetic marks quotes fabricated by the synthesizer instead of an
// upstream provider. Everything else carries the provider name.
const SourceSynthetic = "synthetic"

// Quote is a point-in-time snapshot for one symbol. This shape is the sole
// contract consumed by portfolio valuation, order defaults, and P&L display.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	DayHigh       float64 `json:"dayHigh"`
	DayLow        float64 `json:"dayLow"`
	Volume        int64   `json:"volume"`
	MarketCap     float64 `json:"marketCap,omitempty"`
	PERatio       float64 `json:"peRatio,omitempty"`
	Source        string  `json:"source"`
	FetchedAt     int64   `json:"fetchedAt"` // unix micro
}

// Tick represents a single market tick for a stock symbol
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	Timestamp int64   `json:"timestamp"` // unix micro
	SeqID     int64   `json:"seq_id"`    // monotonic counter per symbol
}

// Tick converts a quote into the tick shape used on the streaming path.
func (q Quote) Tick(seqID int64) Tick {
	return Tick{
		Symbol:    q.Symbol,
		Price:     q.Price,
		Volume:    q.Volume,
		Timestamp: q.FetchedAt,
		SeqID:     seqID,
	}
}

// PriceDirection describes how a price moved relative to its previous value.
type PriceDirection string

const (
	DirectionUp   PriceDirection = "up"
	DirectionDown PriceDirection = "down"
	DirectionSame PriceDirection = "same"
)

// DirectionOf compares a new price against the previous one.
// Strictly greater is up, strictly lesser is down, anything else is same.
func DirectionOf(newPrice, previousPrice float64) PriceDirection {
	switch {
	case newPrice > previousPrice:
		return DirectionUp
	case newPrice < previousPrice:
		return DirectionDown
	default:
		return DirectionSame
	}
}

// NormalizeSymbol canonicalizes user-supplied symbols to uppercase.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsRegional reports whether a symbol belongs to a regional exchange that the
// upstream providers do not cover. These go straight to synthesis.
func IsRegional(symbol string) bool {
	return strings.HasSuffix(symbol, ".NS") || strings.HasSuffix(symbol, ".BO")
}

// Movers is the gainers/losers response shape.
type Movers struct {
	Type   string  `json:"type"` // "gainers" or "losers"
	Quotes []Quote `json:"quotes"`
	AsOf   int64   `json:"asOf"` // unix micro
}

// Now returns the current time in the unix-micro convention used on the wire.
func Now() int64 {
	return time.Now().UnixMicro()
}
