package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/pkg/models"
)

// Chain tries providers strictly in priority order. Each attempt gets an
// independent timeout; a provider that answers only some symbols is a failure
// for the missing symbols only. Symbols on regional exchanges the providers
// do not cover are never sent upstream.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	logger    *zap.Logger
}

func NewChain(logger *zap.Logger, timeout time.Duration, providers ...Provider) *Chain {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Chain{
		providers: providers,
		timeout:   timeout,
		logger:    logger,
	}
}

// Fetch resolves as many symbols as it can. It returns the resolved quotes
// keyed by symbol plus the symbols still unresolved after every provider has
// been tried; those are the synthesizer's job. Fetch itself never fails.
func (c *Chain) Fetch(ctx context.Context, symbols []string) (map[string]models.Quote, []string) {
	resolved := make(map[string]models.Quote, len(symbols))

	var pending, leftover []string
	for _, sym := range symbols {
		if models.IsRegional(sym) {
			leftover = append(leftover, sym)
			continue
		}
		pending = append(pending, sym)
	}

	for _, p := range c.providers {
		if len(pending) == 0 {
			break
		}
		if ctx.Err() != nil {
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		quotes, err := p.Fetch(attemptCtx, pending)
		cancel()

		if err != nil {
			c.logger.Warn("Provider attempt failed",
				zap.String("provider", p.Name()),
				zap.Int("symbols", len(pending)),
				zap.Error(err))
			continue
		}

		for _, q := range quotes {
			resolved[q.Symbol] = q
		}

		var still []string
		for _, sym := range pending {
			if _, ok := resolved[sym]; !ok {
				still = append(still, sym)
			}
		}
		pending = still
	}

	return resolved, append(leftover, pending...)
}
