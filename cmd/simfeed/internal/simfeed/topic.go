package simfeed

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	readyAttempts = 5
	readyBackoff  = 200 * time.Millisecond
)

// Bootstrap makes sure the tick topic exists before the simulator starts
// writing, so the first messages are not lost to auto-creation lag.
type Bootstrap struct {
	logger     *zap.Logger
	dialer     Dialer
	clock      Clock
	partitions int
}

func NewBootstrap(logger *zap.Logger, dialer Dialer, clock Clock, partitions int) *Bootstrap {
	if partitions <= 0 {
		partitions = 4
	}
	return &Bootstrap{
		logger:     logger,
		dialer:     dialer,
		clock:      clock,
		partitions: partitions,
	}
}

// EnsureTopic creates the topic on the cluster controller and waits until its
// partitions are visible. An already-existing topic is not an error.
func (b *Bootstrap) EnsureTopic(ctx context.Context, brokers []string, topic string) error {
	conn, err := b.dialAny(ctx, brokers)
	if err != nil {
		return fmt.Errorf("dialing brokers: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("resolving controller: %w", err)
	}

	ctrlConn, err := b.dialer.DialContext(ctx, "tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dialing controller: %w", err)
	}
	defer ctrlConn.Close()

	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     b.partitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		// kafka returns an error when the topic already exists; readiness
		// below decides whether that matters
		b.logger.Info("Topic create returned", zap.String("topic", topic), zap.Error(err))
	}

	if !b.awaitReady(conn, topic) {
		return fmt.Errorf("topic %q not ready after %d attempts", topic, readyAttempts)
	}
	b.logger.Info("Topic ready", zap.String("topic", topic))
	return nil
}

func (b *Bootstrap) dialAny(ctx context.Context, brokers []string) (Conn, error) {
	var lastErr error
	for _, addr := range brokers {
		conn, err := b.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no brokers configured")
	}
	return nil, lastErr
}

func (b *Bootstrap) awaitReady(conn Conn, topic string) bool {
	for i := 0; i < readyAttempts; i++ {
		partitions, err := conn.ReadPartitions(topic)
		if err == nil && len(partitions) > 0 {
			return true
		}
		b.clock.Sleep(readyBackoff)
	}
	return false
}
