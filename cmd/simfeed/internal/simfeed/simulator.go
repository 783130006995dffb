// Package simfeed produces a simulated upstream tick firehose: a bounded
// random walk per symbol written to Kafka, standing in for a real provider
// push feed during development.
package simfeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/pkg/models"
)

// walk step stays inside ±0.5% per tick
const maxStepFraction = 0.005

type Simulator struct {
	logger      *zap.Logger
	writer      Writer
	tickers     []string
	prices      map[string]float64
	rand        Rand
	clock       Clock
	interval    time.Duration
	seqCounters map[string]int64
}

func NewSimulator(
	logger *zap.Logger,
	writer Writer,
	tickers []string,
	basePrices map[string]float64,
	rnd Rand,
	clock Clock,
	interval time.Duration,
) *Simulator {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	prices := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		prices[t] = basePrices[t]
		if prices[t] <= 0 {
			prices[t] = 100
		}
	}
	return &Simulator{
		logger:      logger,
		writer:      writer,
		tickers:     tickers,
		prices:      prices,
		rand:        rnd,
		clock:       clock,
		interval:    interval,
		seqCounters: make(map[string]int64),
	}
}

func (s *Simulator) Run(ctx context.Context) {
	s.logger.Info("Simulator started", zap.Strings("tickers", s.tickers))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(s.tickers) == 0 {
				s.clock.Sleep(time.Second)
				continue
			}

			symbol := s.tickers[s.rand.Intn(len(s.tickers))]

			// Walk from the previous price, not the base, so the feed trends.
			step := (s.rand.Float64()*2 - 1) * maxStepFraction
			price := s.prices[symbol] * (1 + step)
			if price <= 0 {
				price = s.prices[symbol]
			}
			s.prices[symbol] = price
			s.seqCounters[symbol]++

			tick := models.Tick{
				Symbol:    symbol,
				Price:     price,
				Volume:    int64(1 + s.rand.Intn(10_000)),
				Timestamp: s.clock.Now().UnixMicro(),
				SeqID:     s.seqCounters[symbol],
			}

			payload, _ := json.Marshal(tick) // Error ignored for simplicity in loop

			err := s.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(symbol), // Key ensures partition ordering
				Value: payload,
			})
			if err != nil {
				s.logger.Error("Kafka write error", zap.Error(err))
			}

			s.clock.Sleep(s.interval)
		}
	}
}
