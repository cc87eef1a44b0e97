package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// appendTimeout bounds a single Append so slow brokers cannot hold the
// admission path open indefinitely.
const appendTimeout = 5 * time.Second

// KafkaAppender implements Appender on a Kafka topic. Messages are keyed by
// device ID with a hash balancer, so one device always lands on the same
// partition and keeps its order.
type KafkaAppender struct {
	writer *kafka.Writer
}

// NewKafkaAppender creates a writer for topic on brokers. RequiredAcks is set
// to RequireAll: Append does not return success until the write is durable.
func NewKafkaAppender(brokers []string, topic string) (*KafkaAppender, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("eventlog: brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaAppender{writer: writer}, nil
}

// Append writes payload keyed by deviceID and waits for the broker ack.
func (a *KafkaAppender) Append(ctx context.Context, deviceID string, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	err := a.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(deviceID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the Kafka writer. Safe to call multiple times.
func (a *KafkaAppender) Close() error {
	return a.writer.Close()
}

// KafkaConsumer implements Consumer over a consumer-group reader with manual
// offset commits. CommitInterval is left at zero so Commit is synchronous:
// the group checkpoint never runs ahead of handled records.
type KafkaConsumer struct {
	reader *kafka.Reader
}

// NewKafkaConsumer creates a group reader for topic. Restarting a consumer
// with the same groupID resumes after the group's last committed offset.
func NewKafkaConsumer(brokers []string, topic, groupID string) (*KafkaConsumer, error) {
	if len(brokers) == 0 || topic == "" || groupID == "" {
		return nil, fmt.Errorf("eventlog: brokers, topic, and group ID are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  1 * time.Second,
	})
	return &KafkaConsumer{reader: reader}, nil
}

// Fetch returns the next record for this consumer's assigned partitions
// without committing its offset.
func (c *KafkaConsumer) Fetch(ctx context.Context) (Record, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Partition:  msg.Partition,
		Offset:     msg.Offset,
		Key:        msg.Key,
		Value:      msg.Value,
		AppendedAt: msg.Time,
	}, nil
}

// Commit durably advances the group checkpoint past rec.
func (c *KafkaConsumer) Commit(ctx context.Context, rec Record) error {
	return c.reader.CommitMessages(ctx, kafka.Message{
		Topic:     c.reader.Config().Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
	})
}

// Close closes the reader and leaves the consumer group.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
