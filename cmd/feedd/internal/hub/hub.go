package hub

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/cmd/feedd/internal/repository"
	"github.com/tradebro/marketfeed/pkg/models"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// Hub routes feed ticks to streaming subscribers. It ref-counts symbols so
// the upstream feed subscription exists exactly while someone is watching.
type Hub struct {
	subscribers map[string]map[ClientInterface]bool
	clientSubs  map[ClientInterface]map[string]bool

	store    repository.PriceStore
	logger   *zap.Logger
	mu       sync.RWMutex
	refCount map[string]int
}

func NewHub(store repository.PriceStore, logger *zap.Logger) *Hub {
	h := &Hub{
		subscribers: make(map[string]map[ClientInterface]bool),
		clientSubs:  make(map[ClientInterface]map[string]bool),
		store:       store,
		logger:      logger,
		refCount:    make(map[string]int),
	}

	go h.store.RunPubSub(context.Background(), h.Broadcast)

	return h
}

// HandleMessage dispatches one protocol message from a streaming client.
func (h *Hub) HandleMessage(client ClientInterface, msg models.ClientMessage) {
	switch msg.Type {
	case models.MsgSubscribe:
		h.handleSubscribe(client, models.NormalizeSymbol(msg.Symbol))
	case models.MsgUnsubscribe:
		h.handleUnsubscribe(client, models.NormalizeSymbol(msg.Symbol))
	case models.MsgPing:
		client.SendJSON(models.ServerMessage{Type: models.MsgAck, Message: "pong"})
	default:
		h.sendError(client, msg.Symbol, "Unknown message type: "+msg.Type)
	}
}

func (h *Hub) handleSubscribe(client ClientInterface, symbol string) {
	if symbol == "" {
		h.sendError(client, symbol, "Missing symbol")
		return
	}

	h.mu.Lock()
	// Idempotency: a second subscribe to the same symbol is a no-op ack
	if h.clientSubs[client] != nil && h.clientSubs[client][symbol] {
		h.mu.Unlock()
		h.sendAck(client, symbol, "Already subscribed")
		return
	}

	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}
	h.clientSubs[client][symbol] = true

	if h.subscribers[symbol] == nil {
		h.subscribers[symbol] = make(map[ClientInterface]bool)
	}
	h.subscribers[symbol][client] = true

	h.refCount[symbol]++
	first := h.refCount[symbol] == 1
	h.mu.Unlock()

	if first {
		if err := h.store.SubscribeToFeed(context.Background(), symbol); err != nil {
			h.logger.Error("Failed to subscribe upstream", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	h.sendAck(client, symbol, "Subscribed")

	// Send the latest snapshot as an initial trade frame so the subscriber
	// has a price before the first live tick arrives.
	go func() {
		snaps, err := h.store.GetSnapshots(context.Background(), []string{symbol})
		if err != nil || len(snaps) == 0 {
			return
		}
		// The client may have disconnected while the snapshot was in flight.
		h.mu.RLock()
		still := h.subscribers[symbol][client]
		h.mu.RUnlock()
		if !still {
			return
		}
		client.SendJSON(models.ServerMessage{Type: models.MsgTrade, Data: snaps})
	}()
}

func (h *Hub) handleUnsubscribe(client ClientInterface, symbol string) {
	h.mu.Lock()

	subs, ok := h.clientSubs[client]
	if !ok || !subs[symbol] {
		h.mu.Unlock()
		h.sendError(client, symbol, "Not subscribed")
		return
	}

	delete(subs, symbol)
	delete(h.subscribers[symbol], client)
	h.decreaseRefCountLocked(symbol)
	h.mu.Unlock()

	h.sendAck(client, symbol, "Unsubscribed")
}

// Unregister drops every subscription a client holds. Called on disconnect.
func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	if subs, ok := h.clientSubs[client]; ok {
		for sym := range subs {
			delete(h.subscribers[sym], client)
			h.decreaseRefCountLocked(sym)
		}
		delete(h.clientSubs, client)
	}
	h.mu.Unlock()

	client.Close()
}

// Broadcast pushes one tick to every subscriber of its symbol.
func (h *Hub) Broadcast(symbol string, t models.Tick) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.subscribers[symbol]
	if !ok || len(clients) == 0 {
		return
	}

	msgBytes, err := json.Marshal(models.ServerMessage{Type: models.MsgTrade, Data: []models.Tick{t}})
	if err != nil {
		return
	}
	for client := range clients {
		client.SendBytes(msgBytes)
	}
}

// ActiveSymbols lists every symbol with at least one subscriber. The poller
// uses this as its batch.
func (h *Hub) ActiveSymbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.refCount))
	for sym := range h.refCount {
		out = append(out, sym)
	}
	return out
}

// decreaseRefCountLocked must be called with h.mu held.
func (h *Hub) decreaseRefCountLocked(symbol string) {
	h.refCount[symbol]--
	if h.refCount[symbol] <= 0 {
		if err := h.store.UnsubscribeFromFeed(context.Background(), symbol); err != nil {
			h.logger.Error("Failed to unsubscribe upstream", zap.String("symbol", symbol), zap.Error(err))
		}
		delete(h.refCount, symbol)
		delete(h.subscribers, symbol)
	}
}

func (h *Hub) sendAck(c ClientInterface, symbol, msg string) {
	c.SendJSON(models.ServerMessage{Type: models.MsgAck, Symbol: symbol, Message: msg})
}

func (h *Hub) sendError(c ClientInterface, symbol, msg string) {
	c.SendJSON(models.ServerMessage{Type: models.MsgError, Symbol: symbol, Message: msg})
}
