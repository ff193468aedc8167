package export

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/strobelab/strobe/internal/errorutil"
)

// KafkaDestination ships snapshot messages to a Kafka topic for downstream
// storage (e.g. ClickHouse ingestion).
type KafkaDestination struct {
	writer *kafka.Writer
}

func NewKafkaDestination(brokers []string, topic string) (*KafkaDestination, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("export: kafka: %w: brokers and topic must be set", errorutil.ErrNotConfigured)
	}
	return &KafkaDestination{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     kafka.CRC32Balancer{},
			BatchSize:    10,
			Compression:  kafka.Lz4,
			ReadTimeout:  3 * time.Second,
			Topic:        topic,
			WriteTimeout: 3 * time.Second,
		},
	}, nil
}

func (d *KafkaDestination) Ship(ctx context.Context, m SnapshotMessage) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.SnapshotID),
		Value: b,
	})
}

func (d *KafkaDestination) Close() error {
	return d.writer.Close()
}
