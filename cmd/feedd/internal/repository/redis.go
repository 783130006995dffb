package repository

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradebro/marketfeed/pkg/models"
)

const (
	keyPrefix     = "stock:"
	channelPrefix = "prices."

	// snapshot TTL prevents unbounded growth for symbols nobody watches anymore
	snapshotTTL = 1 * time.Hour
)

// Compile-time check to ensure RedisStore implements PriceStore
var _ PriceStore = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
	pubsub *redis.PubSub
	mu     sync.Mutex // Protects pubsub subscribe/unsubscribe
}

func NewRedisStore(client *redis.Client) *RedisStore {
	ps := client.Subscribe(context.Background())
	return &RedisStore{
		client: client,
		pubsub: ps,
	}
}

// GetSnapshots fetches the latest stored tick for a list of symbols (MGET)
func (r *RedisStore) GetSnapshots(ctx context.Context, symbols []string) ([]models.Tick, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = keyPrefix + sym
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var snapshots []models.Tick
	for _, val := range results {
		payload, ok := val.(string)
		if !ok || payload == "" {
			continue
		}
		var t models.Tick
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			continue
		}
		snapshots = append(snapshots, t)
	}
	return snapshots, nil
}

// PublishTick stores the tick as the symbol's snapshot and fans it out to
// feed subscribers, atomically via a single pipeline.
func (r *RedisStore) PublishTick(ctx context.Context, t models.Tick) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, keyPrefix+t.Symbol, payload, snapshotTTL)
	pipe.Publish(ctx, channelPrefix+t.Symbol, payload)
	_, err = pipe.Exec(ctx)
	return err
}

// SubscribeToFeed starts listening to this symbol's channel
func (r *RedisStore) SubscribeToFeed(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Subscribe(ctx, channelPrefix+symbol)
}

// UnsubscribeFromFeed stops messages for this symbol's channel
func (r *RedisStore) UnsubscribeFromFeed(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Unsubscribe(ctx, channelPrefix+symbol)
}

// RunPubSub is a blocking loop that reads feed messages and triggers the
// callback with the decoded tick.
func (r *RedisStore) RunPubSub(ctx context.Context, onMessage func(symbol string, t models.Tick)) {
	ch := r.pubsub.Channel()

	for msg := range ch {
		symbol := strings.TrimPrefix(msg.Channel, channelPrefix)
		if symbol == msg.Channel || symbol == "" {
			continue
		}

		var t models.Tick
		if err := json.Unmarshal([]byte(msg.Payload), &t); err != nil {
			continue
		}
		onMessage(symbol, t)
	}
}

func (r *RedisStore) Close() error {
	if err := r.pubsub.Close(); err != nil {
		return err
	}
	return r.client.Close()
}
