// Package synth fabricates deterministic quote data for symbols no upstream
// provider can answer. Determinism is keyed on (symbol, user, time bucket):
// repeated calls inside one bucket return the identical quote, and each new
// bucket composes a bounded drift onto the previous price (a price walk)
// instead of re-rolling from a fixed base. The user identifier is an opaque
// salt so each user sees a personal but stable walk.
package synth

import (
	"container/list"
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/tradebro/marketfeed/pkg/models"
)

const (
	// drift per bucket stays inside ±5%
	maxDriftPercent = 5.0

	basePriceFloor = 200.0
	basePriceSpan  = 3800.0

	// walk memory is bounded; an evicted key simply restarts from its
	// deterministic base price
	walkCapacity = 4096
)

type walkState struct {
	key    string
	quote  models.Quote
	bucket int64
}

// Generator owns the per-key walk memory. Safe for concurrent use.
type Generator struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]*list.Element
	order  *list.List // front = most recently walked

	now func() time.Time
}

func New(window time.Duration) *Generator {
	if window <= 0 {
		window = time.Minute
	}
	return &Generator{
		window: window,
		last:   make(map[string]*list.Element),
		order:  list.New(),
		now:    time.Now,
	}
}

// Synthesize returns a structurally valid quote for the symbol. It never fails.
func (g *Generator) Synthesize(symbol, userID string) models.Quote {
	symbol = models.NormalizeSymbol(symbol)
	now := g.now()
	secs := int64(g.window.Seconds())
	if secs < 1 {
		secs = 1
	}
	bucket := now.Unix() / secs
	key := userID + "|" + symbol

	g.mu.Lock()
	defer g.mu.Unlock()

	el, walked := g.last[key]
	if walked {
		st := el.Value.(*walkState)
		if st.bucket == bucket {
			g.order.MoveToFront(el)
			return st.quote
		}
	}

	rng := rand.New(rand.NewSource(seed(userID, symbol, bucket)))

	base := basePrice(symbol)
	if walked {
		base = el.Value.(*walkState).quote.Price
	}

	drift := rng.Float64() * maxDriftPercent
	if rng.Intn(2) == 0 {
		drift = -drift
	}

	price := round2(base * (1 + drift/100))
	if price <= 0 {
		price = round2(basePrice(symbol))
	}
	change := round2(price - base)
	changePercent := 0.0
	if base != 0 {
		changePercent = round2(change / base * 100)
	}

	high := math.Max(price, base)
	low := math.Min(price, base)
	q := models.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: changePercent,
		DayHigh:       round2(high * (1 + rng.Float64()*0.01)),
		DayLow:        round2(low * (1 - rng.Float64()*0.01)),
		Volume:        100_000 + rng.Int63n(9_900_000),
		MarketCap:     round2(price * float64(10_000_000+rng.Int63n(90_000_000))),
		PERatio:       round2(8 + rng.Float64()*32),
		Source:        models.SourceSynthetic,
		FetchedAt:     now.UnixMicro(),
	}

	if walked {
		st := el.Value.(*walkState)
		st.quote = q
		st.bucket = bucket
		g.order.MoveToFront(el)
	} else {
		g.last[key] = g.order.PushFront(&walkState{key: key, quote: q, bucket: bucket})
		for len(g.last) > walkCapacity {
			oldest := g.order.Back()
			if oldest == nil {
				break
			}
			g.order.Remove(oldest)
			delete(g.last, oldest.Value.(*walkState).key)
		}
	}
	return q
}

// Len reports how many walk keys are held.
func (g *Generator) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}

func seed(userID, symbol string, bucket int64) int64 {
	h := fnv.New64a()
	h.Write([]byte(userID))
	h.Write([]byte{'|'})
	h.Write([]byte(symbol))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(bucket, 10)))
	return int64(h.Sum64())
}

// basePrice derives the starting neighborhood for a symbol's walk. The same
// symbol always starts from the same price regardless of user.
func basePrice(symbol string) float64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	cents := h.Sum64() % uint64(basePriceSpan*100)
	return basePriceFloor + float64(cents)/100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
