package poller_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/cmd/feedd/internal/poller"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/testutils"
	"github.com/tradebro/marketfeed/pkg/models"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFetcher) GetQuotes(ctx context.Context, symbols []string, userID string) ([]models.Quote, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Quote, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, models.Quote{Symbol: s, Price: 100, Source: "p1", FetchedAt: time.Now().UnixMicro()})
	}
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPoller_PublishesSubscribedSymbols(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := testutils.NewMockStore()
	p := poller.New(fetcher, store, func() []string { return []string{"AAPL"} },
		20*time.Millisecond, 15*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	store.Mu.Lock()
	defer store.Mu.Unlock()
	if len(store.Published) < 2 {
		t.Fatalf("Expected repeated poll publishes, got %d", len(store.Published))
	}
	if store.Published[0].SeqID >= store.Published[1].SeqID {
		t.Error("Poll ticks must carry increasing sequence ids")
	}
}

func TestPoller_IdleWhenNoSubscribers(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := testutils.NewMockStore()
	p := poller.New(fetcher, store, func() []string { return nil },
		20*time.Millisecond, 15*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	if fetcher.callCount() != 0 {
		t.Errorf("Poller should not fetch without subscribers, got %d calls", fetcher.callCount())
	}
}

func TestPoller_FailedCycleIsRetriedNextTick(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("boom")}
	store := testutils.NewMockStore()
	p := poller.New(fetcher, store, func() []string { return []string{"AAPL"} },
		20*time.Millisecond, 15*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	if fetcher.callCount() < 2 {
		t.Errorf("Failed cycles should be retried, got %d calls", fetcher.callCount())
	}
	store.Mu.Lock()
	defer store.Mu.Unlock()
	if len(store.Published) != 0 {
		t.Error("Nothing should be published when every cycle fails")
	}
}
