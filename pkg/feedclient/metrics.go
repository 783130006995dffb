package feedclient

import (
	"fmt"
	"math"
)

// PnLResult carries the derived position metrics for one holding.
type PnLResult struct {
	PnL           float64 `json:"pnl"`
	PnLPercent    float64 `json:"pnlPercent"`
	CurrentValue  float64 `json:"currentValue"`
	InvestedValue float64 `json:"investedValue"`
}

// PnL values a position against the live table. The boolean is false when the
// symbol has no live price yet or the inputs are degenerate.
func PnL(t *Table, symbol string, quantity, averagePrice float64) (PnLResult, bool) {
	if quantity <= 0 || averagePrice <= 0 {
		return PnLResult{}, false
	}
	entry, ok := t.Get(symbol)
	if !ok || entry.Price <= 0 {
		return PnLResult{}, false
	}

	current := round2(entry.Price * quantity)
	invested := round2(averagePrice * quantity)
	pnl := round2(current - invested)
	return PnLResult{
		PnL:           pnl,
		PnLPercent:    round2(pnl / invested * 100),
		CurrentValue:  current,
		InvestedValue: invested,
	}, true
}

// FormatPriceChange renders a change pair the way the watchlist rows show it,
// e.g. "+1.23 (+0.46%)".
func FormatPriceChange(change, changePercent float64) string {
	return fmt.Sprintf("%+.2f (%+.2f%%)", change, changePercent)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
