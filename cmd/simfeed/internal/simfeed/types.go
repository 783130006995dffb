package simfeed

import (
	"context"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"
)

// Clock and Rand are seams so tests can script time and walk steps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type Rand interface {
	Intn(n int) int
	Float64() float64
}

// Writer is the slice of kafka.Writer the simulator needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Dialer opens cluster connections for topic bootstrap.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (Conn, error)
}

// Conn is the slice of kafka.Conn the bootstrap needs.
type Conn interface {
	Controller() (kafka.Broker, error)
	Close() error
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
}

type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

type SeededRand struct{ *rand.Rand }

func (r SeededRand) Intn(n int) int   { return r.Rand.Intn(n) }
func (r SeededRand) Float64() float64 { return r.Rand.Float64() }

// NetDialer adapts *kafka.Dialer to the Dialer seam.
type NetDialer struct{ *kafka.Dialer }

func (d *NetDialer) DialContext(ctx context.Context, network, address string) (Conn, error) {
	conn, err := d.Dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return clusterConn{conn}, nil
}

type clusterConn struct{ conn *kafka.Conn }

func (c clusterConn) Controller() (kafka.Broker, error) { return c.conn.Controller() }
func (c clusterConn) Close() error                      { return c.conn.Close() }
func (c clusterConn) CreateTopics(topics ...kafka.TopicConfig) error {
	return c.conn.CreateTopics(topics...)
}
func (c clusterConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	return c.conn.ReadPartitions(topics...)
}
