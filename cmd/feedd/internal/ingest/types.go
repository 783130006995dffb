package ingest

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// KafkaReader abstracts the input stream
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}
