package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relay-lab/contract"

	"github.com/segmentio/kafka-go"
)

var (
	_ contract.LogWriter = (*KafkaWriter)(nil)
	_ contract.LogReader = (*KafkaReader)(nil)
)

// KafkaWriter adapts a kafka-go writer to the LogWriter contract.
// The hash balancer keeps every record sharing a key on the same
// partition, which is what gives per-key ordering end to end.
type KafkaWriter struct {
	writer *kafka.Writer
}

func NewKafkaWriter(brokers []string) (*KafkaWriter, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka writer requires at least one broker")
	}
	return &KafkaWriter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

func (w *KafkaWriter) Write(ctx context.Context, records ...contract.Record) error {
	messages := make([]kafka.Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, kafka.Message{
			Topic: record.Topic,
			Key:   record.Key,
			Value: record.Value,
			Time:  time.Now().UTC(),
		})
	}
	return w.writer.WriteMessages(ctx, messages...)
}

func (w *KafkaWriter) Close() error {
	return w.writer.Close()
}

// KafkaReader adapts a kafka-go group reader to the LogReader contract.
// Fetch hands records out without advancing the committed position;
// Commit advances it, which is what prevents redelivery.
type KafkaReader struct {
	reader *kafka.Reader

	mu      sync.Mutex
	pending map[fetchKey]kafka.Message
}

type fetchKey struct {
	partition int
	offset    int64
}

func NewKafkaReader(brokers []string, groupID, topic string) (*KafkaReader, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka reader requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka reader requires a group id")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka reader requires a topic")
	}
	return &KafkaReader{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		}),
		pending: make(map[fetchKey]kafka.Message),
	}, nil
}

func (r *KafkaReader) Fetch(ctx context.Context) (contract.Record, error) {
	message, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return contract.Record{}, err
	}

	r.mu.Lock()
	r.pending[fetchKey{partition: message.Partition, offset: message.Offset}] = message
	r.mu.Unlock()

	return contract.Record{
		Topic:     message.Topic,
		Key:       message.Key,
		Value:     message.Value,
		Partition: message.Partition,
		Offset:    message.Offset,
	}, nil
}

func (r *KafkaReader) Commit(ctx context.Context, record contract.Record) error {
	key := fetchKey{partition: record.Partition, offset: record.Offset}

	r.mu.Lock()
	message, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("commit for unknown record %s[%d]@%d", record.Topic, record.Partition, record.Offset)
	}
	return r.reader.CommitMessages(ctx, message)
}

func (r *KafkaReader) Close() error {
	return r.reader.Close()
}
