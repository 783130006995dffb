package ingest_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/cmd/feedd/internal/ingest"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/testutils"
	"github.com/tradebro/marketfeed/pkg/models"
)

func msg(t *testing.T, tick models.Tick) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(tick)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Key: []byte(tick.Symbol), Value: payload}
}

func runIngest(t *testing.T, msgs []kafka.Message) *testutils.MockPriceStore {
	t.Helper()
	store := testutils.NewMockStore()
	reader := &testutils.MockKafkaReader{Messages: msgs}
	in := ingest.NewIngestor(zap.NewNop(), reader, store, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := in.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	return store
}

func TestIngest_PublishesTicks(t *testing.T) {
	store := runIngest(t, []kafka.Message{
		msg(t, models.Tick{Symbol: "AAPL", Price: 180, SeqID: 1}),
		msg(t, models.Tick{Symbol: "MSFT", Price: 410, SeqID: 1}),
	})

	store.Mu.Lock()
	defer store.Mu.Unlock()
	if len(store.Published) != 2 {
		t.Fatalf("Expected 2 published ticks, got %d", len(store.Published))
	}
}

func TestIngest_DeduplicatesBySeqID(t *testing.T) {
	store := runIngest(t, []kafka.Message{
		msg(t, models.Tick{Symbol: "AAPL", Price: 180, SeqID: 5}),
		msg(t, models.Tick{Symbol: "AAPL", Price: 181, SeqID: 5}), // duplicate
		msg(t, models.Tick{Symbol: "AAPL", Price: 179, SeqID: 4}), // stale
		msg(t, models.Tick{Symbol: "AAPL", Price: 182, SeqID: 6}),
	})

	store.Mu.Lock()
	defer store.Mu.Unlock()
	if len(store.Published) != 2 {
		t.Fatalf("Expected dedup to 2 ticks, got %d", len(store.Published))
	}
	if store.Published[0].SeqID != 5 || store.Published[1].SeqID != 6 {
		t.Errorf("Unexpected sequence: %+v", store.Published)
	}
}

func TestIngest_SkipsMalformedPayloads(t *testing.T) {
	store := runIngest(t, []kafka.Message{
		{Key: []byte("AAPL"), Value: []byte("{broken")},
		msg(t, models.Tick{Symbol: "AAPL", Price: 180, SeqID: 1}),
	})

	store.Mu.Lock()
	defer store.Mu.Unlock()
	if len(store.Published) != 1 {
		t.Fatalf("Expected 1 published tick, got %d", len(store.Published))
	}
}
