package simfeed_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/cmd/simfeed/internal/simfeed"
	"github.com/tradebro/marketfeed/cmd/simfeed/internal/testutils"
	"github.com/tradebro/marketfeed/pkg/models"
)

func TestSimulator_WalksFromPreviousPrice(t *testing.T) {
	logger := zap.NewNop()
	mockWriter := &testutils.MockKafkaWriter{}

	// Always pick index 0 (AAPL); alternate a +0.5% and a -0.5% step.
	mockRand := &testutils.MockRand{Ints: []int{0}, Floats: []float64{1.0, 0.0}}
	mockClock := &testutils.MockClock{CurrentTime: time.Unix(0, 0)}

	sim := simfeed.NewSimulator(logger, mockWriter,
		[]string{"AAPL"}, map[string]float64{"AAPL": 100.0},
		mockRand, mockClock, 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	sim.Run(ctx)

	mockWriter.Mu.Lock()
	defer mockWriter.Mu.Unlock()

	if len(mockWriter.Messages) < 2 {
		t.Fatal("Expected at least two ticks")
	}

	var first, second models.Tick
	if err := json.Unmarshal(mockWriter.Messages[0].Value, &first); err != nil {
		t.Fatalf("Generated invalid JSON: %v", err)
	}
	json.Unmarshal(mockWriter.Messages[1].Value, &second)

	if first.Symbol != "AAPL" || first.SeqID != 1 {
		t.Errorf("Unexpected first tick: %+v", first)
	}
	// First float 1.0 -> +0.5% step on base 100
	if first.Price != 100.5 {
		t.Errorf("Expected first price 100.5, got %f", first.Price)
	}
	// Next step composes on 100.5, not on the base
	if second.Price >= first.Price || second.SeqID != 2 {
		t.Errorf("Expected downward walk from previous price, got %+v", second)
	}
}

func TestSimulator_KeysMessagesBySymbol(t *testing.T) {
	mockWriter := &testutils.MockKafkaWriter{}
	mockRand := &testutils.MockRand{Ints: []int{0}, Floats: []float64{0.5}}
	mockClock := &testutils.MockClock{CurrentTime: time.Unix(0, 0)}

	sim := simfeed.NewSimulator(zap.NewNop(), mockWriter,
		[]string{"TSLA"}, map[string]float64{"TSLA": 700.0},
		mockRand, mockClock, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	sim.Run(ctx)

	mockWriter.Mu.Lock()
	defer mockWriter.Mu.Unlock()
	if len(mockWriter.Messages) == 0 {
		t.Fatal("Expected messages")
	}
	if string(mockWriter.Messages[0].Key) != "TSLA" {
		t.Errorf("Message key should be the symbol, got %s", mockWriter.Messages[0].Key)
	}
}

func TestBootstrap_EnsureTopic(t *testing.T) {
	mockDialer := &testutils.MockKafkaDialer{} // Will auto-create ConnSpy
	mockClock := &testutils.MockClock{}

	boot := simfeed.NewBootstrap(zap.NewNop(), mockDialer, mockClock, 4)
	if err := boot.EnsureTopic(context.Background(), []string{"broker:9092"}, "market_ticks"); err != nil {
		t.Fatalf("EnsureTopic failed: %v", err)
	}

	if mockDialer.ConnSpy == nil {
		t.Fatal("Dialer was never called")
	}
	if len(mockDialer.ConnSpy.CreatedTopics) == 0 {
		t.Fatal("No topics created")
	}
	if mockDialer.ConnSpy.CreatedTopics[0] != "market_ticks" {
		t.Errorf("Expected topic 'market_ticks', got %s", mockDialer.ConnSpy.CreatedTopics[0])
	}
}
