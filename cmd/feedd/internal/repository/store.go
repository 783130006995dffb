package repository

import (
	"context"

	"github.com/tradebro/marketfeed/pkg/models"
)

// PriceStore is the shared tick path: the ingest workers and the poller write
// through PublishTick, the hub reads snapshots and subscribes to the feed.
type PriceStore interface {
	GetSnapshots(ctx context.Context, symbols []string) ([]models.Tick, error)
	PublishTick(ctx context.Context, t models.Tick) error
	SubscribeToFeed(ctx context.Context, symbol string) error
	UnsubscribeFromFeed(ctx context.Context, symbol string) error
	RunPubSub(ctx context.Context, onMessage func(symbol string, t models.Tick))
	Close() error
}

// TickPublisher is the write-only slice of PriceStore.
type TickPublisher interface {
	PublishTick(ctx context.Context, t models.Tick) error
}
