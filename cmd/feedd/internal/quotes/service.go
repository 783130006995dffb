// Package quotes is the aggregation layer: it answers batched symbol requests
// from the cache, walks the provider chain on a miss, hands leftovers to the
// synthesizer, and writes the combined result back.
package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/cmd/feedd/internal/cache"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/provider"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/synth"
	"github.com/tradebro/marketfeed/pkg/models"
)

// ErrCacheCorrupt is the only failure this layer surfaces: a cache entry that
// cannot be decoded, or an unreachable cache backend. Provider failures never
// escape; they degrade to synthetic data.
var ErrCacheCorrupt = errors.New("quote cache corrupt")

const instrumentsKey = "ref:instruments"

// jitter stays inside ±0.3% so the "lively ticker" effect never looks like a
// real market move.
const maxJitterFraction = 0.003

type Options struct {
	QuoteTTL      time.Duration
	ReferenceTTL  time.Duration
	Jitter        bool
	MoversSymbols []string
	MoversLimit   int
}

type Service struct {
	store  cache.Store
	chain  *provider.Chain
	synth  *synth.Generator
	logger *zap.Logger
	opts   Options

	now func() time.Time
}

func NewService(store cache.Store, chain *provider.Chain, gen *synth.Generator, logger *zap.Logger, opts Options) *Service {
	if opts.QuoteTTL <= 0 {
		opts.QuoteTTL = 2 * time.Minute
	}
	if opts.ReferenceTTL <= 0 {
		opts.ReferenceTTL = 24 * time.Hour
	}
	if opts.MoversLimit <= 0 {
		opts.MoversLimit = 5
	}
	return &Service{
		store:  store,
		chain:  chain,
		synth:  gen,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// GetQuotes returns exactly one quote per requested symbol, in request order.
// Every symbol resolves: live, cached, or synthetic. userID is an opaque salt
// for synthetic personalization, never validated here.
func (s *Service) GetQuotes(ctx context.Context, symbols []string, userID string) ([]models.Quote, error) {
	ordered := normalize(symbols)
	if len(ordered) == 0 {
		return nil, nil
	}

	shared := cacheKey(ordered)

	// A user with a salted entry reads that first; the shared entry is only a
	// valid fallback when the set cannot contain personalized data.
	lookup := []string{shared}
	if userID != "" {
		lookup = []string{saltedKey(shared, userID)}
		if !hasRegional(ordered) {
			lookup = append(lookup, shared)
		}
	}

	for _, key := range lookup {
		payload, hit, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("cache get: %v: %w", err, ErrCacheCorrupt)
		}
		if !hit {
			continue
		}
		var cached []models.Quote
		if err := json.Unmarshal(payload, &cached); err != nil {
			return nil, fmt.Errorf("cache entry %q: %v: %w", key, err, ErrCacheCorrupt)
		}
		if out, ok := reorder(cached, ordered); ok {
			return out, nil
		}
		// Entry missing symbols it was keyed for: fall through to a refetch
		// rather than serving a hole.
		s.logger.Warn("Incomplete cache entry, refetching", zap.String("key", key))
	}

	resolved, leftover := s.chain.Fetch(ctx, ordered)
	for sym := range resolved {
		if s.opts.Jitter {
			resolved[sym] = s.jitterQuote(resolved[sym])
		}
	}
	for _, sym := range leftover {
		resolved[sym] = s.synth.Synthesize(sym, userID)
	}

	out := make([]models.Quote, 0, len(ordered))
	for _, sym := range ordered {
		out = append(out, resolved[sym])
	}

	// Synthetic quotes are personalized: a result containing any must never
	// land under the shared key where another user would read it.
	writeKey := shared
	if userID != "" && len(leftover) > 0 {
		writeKey = saltedKey(shared, userID)
	}

	if encoded, err := json.Marshal(out); err == nil {
		if err := s.store.Put(ctx, writeKey, encoded, s.opts.QuoteTTL); err != nil {
			s.logger.Warn("Cache write failed", zap.String("key", writeKey), zap.Error(err))
		}
	}
	return out, nil
}

// Movers returns the top gainers or losers over a fixed reference universe,
// through the same cache/fallback pipeline as user requests.
func (s *Service) Movers(ctx context.Context, kind string) (models.Movers, error) {
	quotes, err := s.GetQuotes(ctx, s.opts.MoversSymbols, "")
	if err != nil {
		return models.Movers{}, err
	}

	sorted := make([]models.Quote, len(quotes))
	copy(sorted, quotes)
	if kind == "losers" {
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ChangePercent < sorted[j].ChangePercent })
	} else {
		kind = "gainers"
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ChangePercent > sorted[j].ChangePercent })
	}
	if len(sorted) > s.opts.MoversLimit {
		sorted = sorted[:s.opts.MoversLimit]
	}

	return models.Movers{Type: kind, Quotes: sorted, AsOf: s.now().UnixMicro()}, nil
}

// Instrument is a row of the reference list: rarely-changing data cached
// under the long TTL class.
type Instrument struct {
	Symbol   string `json:"symbol"`
	Regional bool   `json:"regional"`
}

// Instruments returns the tradable reference universe.
func (s *Service) Instruments(ctx context.Context) ([]Instrument, error) {
	payload, hit, err := s.store.Get(ctx, instrumentsKey)
	if err != nil {
		return nil, fmt.Errorf("cache get: %v: %w", err, ErrCacheCorrupt)
	}
	if hit {
		var cached []Instrument
		if err := json.Unmarshal(payload, &cached); err != nil {
			return nil, fmt.Errorf("cache entry %q: %v: %w", instrumentsKey, err, ErrCacheCorrupt)
		}
		return cached, nil
	}

	out := make([]Instrument, 0, len(s.opts.MoversSymbols))
	for _, sym := range normalize(s.opts.MoversSymbols) {
		out = append(out, Instrument{Symbol: sym, Regional: models.IsRegional(sym)})
	}

	if encoded, err := json.Marshal(out); err == nil {
		if err := s.store.Put(ctx, instrumentsKey, encoded, s.opts.ReferenceTTL); err != nil {
			s.logger.Warn("Cache write failed", zap.String("key", instrumentsKey), zap.Error(err))
		}
	}
	return out, nil
}

// jitterQuote nudges a live provider quote by a deterministic per-(symbol,
// cache-window) amount. This is deliberate product behavior: it keeps the
// ticker feeling alive between provider refreshes while repeated reads within
// one TTL window stay byte-stable.
func (s *Service) jitterQuote(q models.Quote) models.Quote {
	// Sub-second TTLs are valid cache settings but would zero the divisor.
	secs := int64(s.opts.QuoteTTL.Seconds())
	if secs < 1 {
		secs = 1
	}
	bucket := s.now().Unix() / secs

	h := fnv.New64a()
	h.Write([]byte(q.Symbol))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(bucket, 10)))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	j := (rng.Float64()*2 - 1) * maxJitterFraction
	jittered := round2(q.Price * (1 + j))
	delta := jittered - q.Price

	q.Price = jittered
	q.Change = round2(q.Change + delta)
	if prev := q.Price - q.Change; prev > 0 {
		q.ChangePercent = round2(q.Change / prev * 100)
	}
	q.DayHigh = math.Max(q.DayHigh, q.Price)
	q.DayLow = math.Min(q.DayLow, q.Price)
	return q
}

func normalize(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := models.NormalizeSymbol(s)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

// cacheKey sorts the symbol set so AAPL,MSFT and MSFT,AAPL share an entry.
func cacheKey(ordered []string) string {
	sorted := make([]string, len(ordered))
	copy(sorted, ordered)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func saltedKey(key, userID string) string {
	return "u:" + userID + "|" + key
}

func hasRegional(symbols []string) bool {
	for _, sym := range symbols {
		if models.IsRegional(sym) {
			return true
		}
	}
	return false
}

func reorder(quotes []models.Quote, ordered []string) ([]models.Quote, bool) {
	bySymbol := make(map[string]models.Quote, len(quotes))
	for _, q := range quotes {
		bySymbol[q.Symbol] = q
	}
	out := make([]models.Quote, 0, len(ordered))
	for _, sym := range ordered {
		q, ok := bySymbol[sym]
		if !ok {
			return nil, false
		}
		out = append(out, q)
	}
	return out, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
