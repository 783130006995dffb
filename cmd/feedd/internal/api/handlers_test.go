package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/cmd/feedd/internal/api"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/cache"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/provider"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/quotes"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/synth"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/testutils"
	"github.com/tradebro/marketfeed/pkg/models"
)

func newServer(providers ...provider.Provider) *httptest.Server {
	logger := zap.NewNop()
	svc := quotes.NewService(
		cache.NewMemory(64),
		provider.NewChain(logger, time.Second, providers...),
		synth.New(time.Minute),
		logger,
		quotes.Options{
			QuoteTTL:      time.Minute,
			MoversSymbols: []string{"AAPL", "MSFT"},
			MoversLimit:   5,
		},
	)

	mux := http.NewServeMux()
	api.NewHandler(svc, logger).Register(mux)
	return httptest.NewServer(mux)
}

func TestQuotes_CompleteResponseInRequestOrder(t *testing.T) {
	p1 := &testutils.MockProvider{NameVal: "provider1", Quotes: map[string]models.Quote{
		"AAA": {Symbol: "AAA", Price: 42, Source: "provider1"},
	}}
	srv := newServer(p1)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/quotes?symbols=AAA,BBB&userId=u-9")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var out []models.Quote
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Expected one quote per symbol, got %d", len(out))
	}
	if out[0].Symbol != "AAA" || out[0].Source != "provider1" {
		t.Errorf("AAA should be live, got %+v", out[0])
	}
	if out[1].Symbol != "BBB" || out[1].Source != models.SourceSynthetic {
		t.Errorf("BBB should be synthetic, got %+v", out[1])
	}
}

func TestQuotes_MissingSymbolsIs400(t *testing.T) {
	srv := newServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/quotes")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestMovers_ValidatesType(t *testing.T) {
	srv := newServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/movers?type=sideways")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/movers?type=losers")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var movers models.Movers
	if err := json.NewDecoder(resp.Body).Decode(&movers); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if movers.Type != "losers" || len(movers.Quotes) == 0 {
		t.Errorf("Unexpected movers payload: %+v", movers)
	}
}

func TestInstruments_ReturnsUniverse(t *testing.T) {
	srv := newServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/instruments")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out []quotes.Instrument
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("Expected 2 instruments, got %d", len(out))
	}
}
