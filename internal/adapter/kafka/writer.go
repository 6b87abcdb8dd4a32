package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/nasa-access-etl/internal/config"
	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/observability"
)

// Writer publishes run completions to the notify topic.
// It implements pipeline.Notifier.
type Writer struct {
	writer  *kafkago.Writer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates a Kafka producer for the configured notify topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaNotifyTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: cfg.BatchFlushInterval,
	}
	return &Writer{writer: w, logger: logger, metrics: metrics}
}

// Notify publishes one completion, keyed by run id so a run's events stay on
// one partition.
func (w *Writer) Notify(ctx context.Context, c domain.Completion) error {
	msg, err := serializeToMessage(c)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	w.metrics.CompletionsProduced.Inc()
	w.logger.Debug("completion published", "run_id", c.RunID, "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Completion into a Kafka message.
func serializeToMessage(c domain.Completion) (kafkago.Message, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize completion: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(c.RunID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(c.RunID)},
			{Key: "completed_at", Value: []byte(c.CompletedAt.Format(time.RFC3339))},
		},
	}, nil
}
