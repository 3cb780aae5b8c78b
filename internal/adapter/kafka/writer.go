package kafka

import (
	"context"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/gprof-ar-grid/internal/config"
	"github.com/couchcryptid/gprof-ar-grid/internal/domain"
)

// Writer produces messages to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchBytes:   50e6,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch publishes serialized snapshots and reports to the sink topic in a
// single WriteMessages call. Messages are hashed by key, so all records for a
// region and swath land on one partition.
func (w *Writer) LoadBatch(ctx context.Context, msgs []domain.OutputMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafkago.Message, len(msgs))
	for i := range msgs {
		out[i] = toKafkaMessage(msgs[i])
	}
	return w.writer.WriteMessages(ctx, out...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// headerOrder fixes the order headers are written in.
var headerOrder = []string{
	domain.HeaderRecordType,
	domain.HeaderRegion,
	domain.HeaderProcessedAt,
	domain.HeaderContentType,
}

// toKafkaMessage converts an output message into a Kafka message.
func toKafkaMessage(msg domain.OutputMessage) kafkago.Message {
	headers := make([]kafkago.Header, 0, len(msg.Headers))
	for _, key := range headerOrder {
		if v, ok := msg.Headers[key]; ok {
			headers = append(headers, kafkago.Header{Key: key, Value: []byte(v)})
		}
	}
	return kafkago.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}
