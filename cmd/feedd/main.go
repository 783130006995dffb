package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/cmd/feedd/internal/api"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/cache"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/gateway"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/hub"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/ingest"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/poller"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/provider"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/quotes"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/repository"
	"github.com/tradebro/marketfeed/cmd/feedd/internal/synth"
	"github.com/tradebro/marketfeed/pkg/config"
)

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

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	var store cache.Store
	if cfg.Cache.Backend == "redis" {
		store = cache.NewRedis(rdb)
	} else {
		store = cache.NewMemory(cfg.Cache.Capacity)
	}

	chain := provider.NewChain(logger, cfg.Quotes.ProviderTimeout,
		provider.NewREST(cfg.Providers.Primary.Name, cfg.Providers.Primary.URL, cfg.Providers.Primary.APIKey),
		provider.NewREST(cfg.Providers.Secondary.Name, cfg.Providers.Secondary.URL, cfg.Providers.Secondary.APIKey),
	)

	svc := quotes.NewService(store, chain, synth.New(cfg.Quotes.SynthWindow), logger, quotes.Options{
		QuoteTTL:      cfg.Cache.QuoteTTL,
		ReferenceTTL:  cfg.Cache.ReferenceTTL,
		Jitter:        cfg.Quotes.Jitter,
		MoversSymbols: cfg.Quotes.MoversSymbols,
		MoversLimit:   cfg.Quotes.MoversLimit,
	})

	repo := repository.NewRedisStore(rdb)
	wsHub := hub.NewHub(repo, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	if cfg.Kafka.Enabled {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:           cfg.Kafka.Brokers,
			Topic:             cfg.Kafka.Topic,
			GroupID:           cfg.Kafka.GroupID,
			MinBytes:          200,
			MaxBytes:          10e6,
			MaxWait:           200 * time.Millisecond,
			CommitInterval:    1,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    10 * time.Second,
		})
		in := ingest.NewIngestor(logger, reader, repo, cfg.Kafka.NumWorkers)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := in.Run(ctx); err != nil {
				logger.Error("Ingest stopped with error", zap.Error(err))
			}
			if err := reader.Close(); err != nil {
				logger.Error("Error closing Kafka reader", zap.Error(err))
			}
		}()
	}

	p := poller.New(svc, repo, wsHub.ActiveSymbols, cfg.Feed.PollInterval, cfg.Feed.PollTimeout, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()

	mux := http.NewServeMux()
	api.NewHandler(svc, logger).Register(mux)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		client := gateway.NewClient(conn, wsHub, logger)
		client.Start()
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Feed service started", zap.String("port", cfg.App.Port), zap.Bool("kafka", cfg.Kafka.Enabled))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	cancel()
	wg.Wait()

	if err := repo.Close(); err != nil {
		logger.Error("Error closing price store", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Error("Error closing cache", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
