package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"book-exchange-service/internal/interfaces"
)

// Bridge drains a local signal channel into the durable broker topic so
// signals survive process restarts and reach every notifier instance.
// Publishing is best-effort: a failed publish is logged and the signal is
// dropped, never retried and never surfaced to the adjustment caller.
type Bridge struct {
	channel   *Channel
	publisher interfaces.SignalPublisher
}

// NewBridge creates a bridge from a local channel to a signal publisher.
func NewBridge(channel *Channel, publisher interfaces.SignalPublisher) *Bridge {
	return &Bridge{channel: channel, publisher: publisher}
}

// Run pumps signals until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	log.Info().Msg("Starting availability signal bridge")

	for {
		select {
		case <-ctx.Done():
			log.Info().Int("buffered", b.channel.Len()).Msg("Stopping availability signal bridge")
			return
		case sig := <-b.channel.Receive():
			if err := b.publisher.PublishSignal(ctx, &sig); err != nil {
				Drop(sig, err)
			}
		}
	}
}
