package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/cmd/simfeed/internal/simfeed"
	"github.com/tradebro/marketfeed/pkg/config"
)

// basePrices picks a plausible starting neighborhood per simulated symbol.
var basePrices = map[string]float64{
	"AAPL": 180.0, "GOOG": 140.0, "TSLA": 700.0, "AMZN": 170.0,
	"MSFT": 410.0, "META": 480.0, "NVDA": 880.0, "NFLX": 600.0,
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	// Ensure the topic exists before writing
	boot := simfeed.NewBootstrap(logger, &simfeed.NetDialer{Dialer: kafka.DefaultDialer}, simfeed.SystemClock{}, 4)
	if err := boot.EnsureTopic(context.Background(), cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
		logger.Warn("Topic bootstrap failed, relying on auto-create", zap.Error(err))
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
		// Batch to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}

	tickers := make([]string, 0, len(basePrices))
	for sym := range basePrices {
		tickers = append(tickers, sym)
	}

	sim := simfeed.NewSimulator(
		logger,
		writer,
		tickers,
		basePrices,
		simfeed.SeededRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))},
		simfeed.SystemClock{},
		100*time.Millisecond,
	)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go sim.Run(ctx)

	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()

	// Flush the async writer buffer before exiting
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
