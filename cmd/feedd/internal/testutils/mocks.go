package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/tradebro/marketfeed/pkg/models"
)

// MockProvider scripts one upstream source. Quotes lists what it knows;
// anything else is simply absent from its answer.
type MockProvider struct {
	NameVal string
	Quotes  map[string]models.Quote
	Err     error
	Calls   int
	Mu      sync.Mutex
}

func (m *MockProvider) Name() string { return m.NameVal }

func (m *MockProvider) Fetch(ctx context.Context, symbols []string) ([]models.Quote, error) {
	m.Mu.Lock()
	m.Calls++
	m.Mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []models.Quote
	for _, sym := range symbols {
		if q, ok := m.Quotes[sym]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// MockClient simulates a connected websocket subscriber.
type MockClient struct {
	IDVal    string
	Messages []models.ServerMessage
	RawBytes []string
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if msg, ok := v.(models.ServerMessage); ok {
		m.Messages = append(m.Messages, msg)
	}
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

// MockPriceStore simulates the Redis price store.
type MockPriceStore struct {
	SubscribedChannels map[string]int // symbol -> count
	Published          []models.Tick
	Snapshots          map[string]models.Tick
	Mu                 sync.Mutex
}

func NewMockStore() *MockPriceStore {
	return &MockPriceStore{
		SubscribedChannels: make(map[string]int),
		Snapshots:          make(map[string]models.Tick),
	}
}

func (m *MockPriceStore) GetSnapshots(ctx context.Context, symbols []string) ([]models.Tick, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []models.Tick
	for _, sym := range symbols {
		if t, ok := m.Snapshots[sym]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockPriceStore) PublishTick(ctx context.Context, t models.Tick) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Published = append(m.Published, t)
	m.Snapshots[t.Symbol] = t
	return nil
}

func (m *MockPriceStore) SubscribeToFeed(ctx context.Context, symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribedChannels[symbol]++
	return nil
}

func (m *MockPriceStore) UnsubscribeFromFeed(ctx context.Context, symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribedChannels[symbol]--
	if m.SubscribedChannels[symbol] <= 0 {
		delete(m.SubscribedChannels, symbol)
	}
	return nil
}

func (m *MockPriceStore) RunPubSub(ctx context.Context, onMessage func(symbol string, t models.Tick)) {
	// No-op for unit tests
}

func (m *MockPriceStore) Close() error { return nil }

// MockKafkaReader replays a scripted message sequence then blocks until the
// context is cancelled.
type MockKafkaReader struct {
	Messages []kafka.Message
	pos      int
	Mu       sync.Mutex
}

var ErrNoMoreMessages = errors.New("no more messages")

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	if m.pos < len(m.Messages) {
		msg := m.Messages[m.pos]
		m.pos++
		m.Mu.Unlock()
		return msg, nil
	}
	m.Mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *MockKafkaReader) Close() error { return nil }
