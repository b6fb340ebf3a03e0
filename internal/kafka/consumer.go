package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"book-exchange-service/internal/interfaces"
	"book-exchange-service/internal/models"
)

// Consumer handles consuming availability signals from Kafka. All notifier
// instances share one consumer group; offsets commit only after the handler
// accepts a message, so anything unacknowledged is redelivered. Duplicate
// deliveries are expected and absorbed downstream by the claim latch.
type Consumer struct {
	signalsReader *kafka.Reader
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, consumerGroup, signalsTopic string) *Consumer {
	signalsReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   signalsTopic,
		GroupID: consumerGroup,

		MinBytes:       1,
		MaxBytes:       10e6, // 10MB max message size
		CommitInterval: 0,    // Synchronous commits, one per processed message
		StartOffset:    kafka.LastOffset,

		MaxWait: 1 * time.Second, // Maximum time to wait for new messages

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Msgf("Kafka signals reader error: "+msg, args...)
		}),
	})

	return &Consumer{
		signalsReader: signalsReader,
	}
}

// ConsumeSignals fetches signals and hands them to the handler. A handler
// error leaves the message uncommitted so Kafka redelivers it later.
func (c *Consumer) ConsumeSignals(ctx context.Context, handler interfaces.SignalHandler) error {
	log.Info().Msg("Starting to consume availability signals")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping signal consumption")
			return ctx.Err()
		default:
			message, err := c.signalsReader.FetchMessage(ctx)
			if err != nil {
				if isCancellation(err) {
					return nil
				}
				log.Error().Err(err).Msg("Failed to fetch signal message")
				time.Sleep(time.Second) // Backoff on error
				continue
			}

			var sig models.AvailabilitySignal
			if err := json.Unmarshal(message.Value, &sig); err != nil {
				log.Error().Err(err).
					Str("topic", message.Topic).
					Int("partition", message.Partition).
					Int64("offset", message.Offset).
					Msg("Failed to unmarshal signal")

				// Commit the message to skip it
				if commitErr := c.signalsReader.CommitMessages(ctx, message); commitErr != nil {
					log.Error().Err(commitErr).Msg("Failed to commit invalid signal message")
				}
				continue
			}

			if err := handler.HandleSignal(ctx, &sig); err != nil {
				log.Error().Err(err).
					Str("signal_id", sig.SignalID).
					Str("book_id", sig.BookID.String()).
					Msg("Failed to hand off signal, leaving uncommitted for redelivery")
				continue
			}

			if err := c.signalsReader.CommitMessages(ctx, message); err != nil {
				// Processed but uncommitted: the message may be redelivered,
				// which the latch tolerates.
				log.Error().Err(err).
					Str("signal_id", sig.SignalID).
					Msg("Failed to commit signal message")
			} else {
				log.Debug().
					Str("signal_id", sig.SignalID).
					Str("book_id", sig.BookID.String()).
					Msg("Accepted availability signal")
			}
		}
	}
}

// isCancellation reports whether a fetch failed because the consumer context
// ended; the reader may wrap the context error.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Close closes the Kafka reader
func (c *Consumer) Close() error {
	if err := c.signalsReader.Close(); err != nil {
		return fmt.Errorf("failed to close signals reader: %w", err)
	}
	return nil
}
