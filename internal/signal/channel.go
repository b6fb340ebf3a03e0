package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"book-exchange-service/internal/models"
)

// Channel is a bounded multi-producer/single-consumer conduit for
// availability signals. The producer side (the adjustment coordinator) uses
// the non-blocking Emit, because stock commits must never wait on
// notification plumbing; consumer-facing bridges use the blocking Publish so
// backpressure propagates to the broker instead of dropping messages.
type Channel struct {
	ch chan models.AvailabilitySignal
}

// NewChannel creates a channel with the given buffer capacity.
func NewChannel(capacity int) *Channel {
	return &Channel{ch: make(chan models.AvailabilitySignal, capacity)}
}

// Emit enqueues a signal without blocking. A full channel returns
// ErrSignalChannelFull; the caller logs and moves on.
func (c *Channel) Emit(signal models.AvailabilitySignal) error {
	select {
	case c.ch <- signal:
		return nil
	default:
		return models.ErrSignalChannelFull
	}
}

// Publish enqueues a signal, blocking until there is room or ctx is done.
func (c *Channel) Publish(ctx context.Context, signal models.AvailabilitySignal) error {
	select {
	case c.ch <- signal:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleSignal lets the channel terminate a broker consumer: the consumed
// signal is pushed through with backpressure. An error here (only ctx
// cancellation) leaves the message uncommitted for redelivery.
func (c *Channel) HandleSignal(ctx context.Context, signal *models.AvailabilitySignal) error {
	return c.Publish(ctx, *signal)
}

// Receive exposes the single-consumer end of the channel.
func (c *Channel) Receive() <-chan models.AvailabilitySignal {
	return c.ch
}

// Len reports the number of buffered signals.
func (c *Channel) Len() int {
	return len(c.ch)
}

// Drop logs a signal that could not be enqueued. Stock correctness is
// unaffected; recovery depends on a future signal for the same book.
func Drop(signal models.AvailabilitySignal, err error) {
	log.Error().Err(err).
		Str("signal_id", signal.SignalID).
		Str("book_id", signal.BookID.String()).
		Msg("Dropped availability signal")
}
