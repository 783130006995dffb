// Package poller is the server-side safety net: on a fixed interval it pulls
// fresh quotes for every symbol someone is streaming and pushes them through
// the same Redis path as the Kafka firehose. When the firehose is silent or
// stalled, subscribers still see prices move.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/cmd/feedd/internal/repository"
	"github.com/tradebro/marketfeed/pkg/models"
)

// QuoteFetcher is the slice of the aggregation service the poller needs.
type QuoteFetcher interface {
	GetQuotes(ctx context.Context, symbols []string, userID string) ([]models.Quote, error)
}

type Poller struct {
	quotes   QuoteFetcher
	pub      repository.TickPublisher
	symbols  func() []string
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu  sync.Mutex
	seq map[string]int64
}

func New(quotes QuoteFetcher, pub repository.TickPublisher, symbols func() []string, interval, timeout time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 || timeout >= interval {
		timeout = interval * 8 / 10
	}
	return &Poller{
		quotes:   quotes,
		pub:      pub,
		symbols:  symbols,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		seq:      make(map[string]int64),
	}
}

// Run blocks until ctx is cancelled. A failed cycle is logged and skipped;
// the next tick simply retries.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	syms := p.symbols()
	if len(syms) == 0 {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	quotes, err := p.quotes.GetQuotes(cctx, syms, "")
	if err != nil {
		p.logger.Warn("Poll cycle failed", zap.Int("symbols", len(syms)), zap.Error(err))
		return
	}

	for _, q := range quotes {
		tick := q.Tick(p.nextSeq(q.Symbol))
		if err := p.pub.PublishTick(cctx, tick); err != nil {
			p.logger.Warn("Poll publish failed", zap.String("symbol", q.Symbol), zap.Error(err))
		}
	}
}

func (p *Poller) nextSeq(symbol string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq[symbol]++
	return p.seq[symbol]
}
