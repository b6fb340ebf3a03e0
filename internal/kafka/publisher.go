package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"book-exchange-service/internal/models"
)

// Publisher handles publishing availability signals to Kafka
type Publisher struct {
	signalsWriter *kafka.Writer
}

// NewPublisher creates a new Kafka publisher
func NewPublisher(brokers []string, signalsTopic string) *Publisher {
	// Hash balancer keyed by book ID so redeliveries and repeats for the
	// same book land on the same partition.
	signalsWriter := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  signalsTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll, // Wait for all replicas
		Async:                  false,            // Synchronous writes for reliability
		AllowAutoTopicCreation: true,

		// Producer reliability settings
		BatchTimeout: 10 * time.Millisecond, // Small batch timeout for low latency
		BatchSize:    1,
		MaxAttempts:  3,                // Retry failed sends
		WriteTimeout: 10 * time.Second, // Timeout for write operations
	}

	return &Publisher{
		signalsWriter: signalsWriter,
	}
}

// PublishSignal publishes one availability signal to the signals topic
func (p *Publisher) PublishSignal(ctx context.Context, signal *models.AvailabilitySignal) error {
	data, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(signal.BookID.String()), // Partition by book ID
		Value: data,
		Headers: []kafka.Header{
			{Key: "signal-id", Value: []byte(signal.SignalID)},
		},
	}

	err = p.signalsWriter.WriteMessages(ctx, message)
	if err != nil {
		log.Error().Err(err).
			Str("signal_id", signal.SignalID).
			Str("book_id", signal.BookID.String()).
			Msg("Failed to publish availability signal")
		return fmt.Errorf("failed to publish availability signal: %w", err)
	}

	log.Info().
		Str("signal_id", signal.SignalID).
		Str("book_id", signal.BookID.String()).
		Msg("Published availability signal")

	return nil
}

// Close closes the Kafka writer
func (p *Publisher) Close() error {
	if err := p.signalsWriter.Close(); err != nil {
		return fmt.Errorf("failed to close signals writer: %w", err)
	}
	return nil
}
