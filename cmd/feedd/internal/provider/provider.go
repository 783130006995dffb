// Package provider defines the upstream quote sources and the ordered
// fallback chain that multiplexes them.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tradebro/marketfeed/pkg/models"
)

var (
	ErrProviderTimeout   = errors.New("provider timed out")
	ErrMalformedResponse = errors.New("provider returned malformed response")
	ErrProviderStatus    = errors.New("provider returned non-OK status")
)

// Provider is a single upstream quote source. A provider may answer only a
// subset of the requested symbols; missing symbols are simply absent from the
// result and are not an error.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, symbols []string) ([]models.Quote, error)
}

// wireQuote is the normalized JSON shape the REST providers are expected to
// return per symbol. Exact upstream compatibility is a non-goal; adapters for
// specific vendors map into this shape.
type wireQuote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	DayHigh       float64 `json:"dayHigh"`
	DayLow        float64 `json:"dayLow"`
	Volume        int64   `json:"volume"`
	MarketCap     float64 `json:"marketCap"`
	PERatio       float64 `json:"peRatio"`
}

// RESTProvider fetches batched quotes from a JSON endpoint:
// GET <base>?symbols=A,B,C&token=<key>
type RESTProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewREST(name, baseURL, apiKey string) *RESTProvider {
	return &RESTProvider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

func (p *RESTProvider) Name() string { return p.name }

func (p *RESTProvider) Fetch(ctx context.Context, symbols []string) ([]models.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))
	if p.apiKey != "" {
		q.Set("token", p.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", p.name, ErrProviderTimeout)
		}
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %w", p.name, resp.StatusCode, ErrProviderStatus)
	}

	var wire []wireQuote
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", p.name, err, ErrMalformedResponse)
	}

	now := time.Now().UnixMicro()
	quotes := make([]models.Quote, 0, len(wire))
	for _, w := range wire {
		sym := models.NormalizeSymbol(w.Symbol)
		if sym == "" || w.Price <= 0 {
			// Treat unusable rows as missing for the affected symbol only.
			continue
		}
		quotes = append(quotes, models.Quote{
			Symbol:        sym,
			Price:         w.Price,
			Change:        w.Change,
			ChangePercent: w.ChangePercent,
			DayHigh:       w.DayHigh,
			DayLow:        w.DayLow,
			Volume:        w.Volume,
			MarketCap:     w.MarketCap,
			PERatio:       w.PERatio,
			Source:        p.name,
			FetchedAt:     now,
		})
	}
	return quotes, nil
}
