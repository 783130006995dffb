// Package ingest consumes the upstream tick firehose from Kafka and folds it
// into the live feed path (Redis snapshot + pub/sub). Symbols are sharded
// deterministically across workers so per-symbol ordering survives the fan-out.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/cmd/feedd/internal/repository"
	"github.com/tradebro/marketfeed/pkg/models"
)

type Ingestor struct {
	logger     *zap.Logger
	reader     KafkaReader
	pub        repository.TickPublisher
	numWorkers int
}

func NewIngestor(logger *zap.Logger, reader KafkaReader, pub repository.TickPublisher, numWorkers int) *Ingestor {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	return &Ingestor{
		logger:     logger,
		reader:     reader,
		pub:        pub,
		numWorkers: numWorkers,
	}
}

// Run blocks until ctx is cancelled, then drains the workers.
func (in *Ingestor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, in.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < in.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go in.worker(i, workerChans[i], &wg)
	}

	go func() {
		in.logger.Info("Ingest started", zap.Int("workers", in.numWorkers))
		for {
			m, err := in.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				in.logger.Error("Kafka read error", zap.Error(err))
				continue
			}

			// Deterministic sharding: same symbol always goes to same worker
			workerID := getWorkerID(m.Key, in.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			default:
				// If the worker is behind, drop: latest beats all for live prices.
				in.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()

	for _, ch := range workerChans {
		close(ch)
	}
	in.logger.Info("Waiting for ingest workers to drain...")
	wg.Wait()

	return nil
}

func (in *Ingestor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	// Background context so a cancelled Run never truncates a Redis write mid-pipeline
	ctx := context.Background()

	// Local dedup state, correct only because of deterministic sharding
	lastSeq := make(map[string]int64)

	for payload := range msgs {
		var tick models.Tick
		if err := json.Unmarshal(payload, &tick); err != nil {
			in.logger.Error("JSON unmarshal error", zap.Error(err))
			continue
		}
		tick.Symbol = models.NormalizeSymbol(tick.Symbol)

		if tick.SeqID <= lastSeq[tick.Symbol] {
			in.logger.Debug("Skipping duplicate tick", zap.String("symbol", tick.Symbol), zap.Int64("seq_id", tick.SeqID))
			continue
		}

		if err := in.pub.PublishTick(ctx, tick); err != nil {
			in.logger.Error("Publish error", zap.Error(err), zap.String("symbol", tick.Symbol))
		} else {
			in.logger.Debug("Ingested", zap.String("symbol", tick.Symbol), zap.Int("worker_id", id))
			lastSeq[tick.Symbol] = tick.SeqID
		}
	}
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32()) % numWorkers
}
