package interfaces

import (
	"context"

	"book-exchange-service/internal/models"
)

// SignalEmitter is the producer side of the availability signal channel.
// Emit never blocks; a full channel is reported, not waited out.
type SignalEmitter interface {
	Emit(signal models.AvailabilitySignal) error
}

// SignalPublisher defines the contract for publishing signals to the durable topic.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, signal *models.AvailabilitySignal) error
	Close() error
}

// SignalConsumer defines the contract for consuming signals from the durable topic.
type SignalConsumer interface {
	ConsumeSignals(ctx context.Context, handler SignalHandler) error
	Close() error
}

// SignalHandler processes one consumed availability signal. Returning an
// error leaves the message uncommitted so the broker redelivers it.
type SignalHandler interface {
	HandleSignal(ctx context.Context, signal *models.AvailabilitySignal) error
}
