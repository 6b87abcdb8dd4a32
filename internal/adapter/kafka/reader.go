package kafka

import (
	"context"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/nasa-access-etl/internal/config"
	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

// Reader consumes run requests from the request topic.
// It implements pipeline.RequestSource.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a consumer-group reader. Offsets are committed explicitly
// once a run has been handled.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaRequestTopic,
		GroupID:     cfg.KafkaGroupID,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		StartOffset: kafkago.FirstOffset,
	})
	return &Reader{reader: r, logger: logger}
}

// Next blocks until a request arrives or ctx is done.
func (r *Reader) Next(ctx context.Context) (domain.RawRequest, error) {
	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return domain.RawRequest{}, fmt.Errorf("fetch request: %w", err)
	}
	raw := mapMessageToRawRequest(msg)
	raw.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	r.logger.Debug("request received", "partition", msg.Partition, "offset", msg.Offset)
	return raw, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

func mapMessageToRawRequest(msg kafkago.Message) domain.RawRequest {
	return domain.RawRequest{
		Key:       msg.Key,
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}
}
