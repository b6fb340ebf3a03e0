package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"book-exchange-service/internal/interfaces"
	"book-exchange-service/internal/models"
)

// Batcher is the windowed notification consumer. It loops through
// Idle -> Accumulating -> Flushing for the process lifetime: the window opens
// at the first buffered signal and flushes when either the size cap or the
// interval is reached. Flushing claims each distinct book via the notify
// latch, so same-cycle repeats and redeliveries already claimed by another
// instance fall out without any lock; multiple batcher instances may run
// against the same topic concurrently.
type Batcher struct {
	signals  <-chan models.AvailabilitySignal
	claims   interfaces.NotifyClaimer
	resolver interfaces.SubscriberResolver
	sink     interfaces.DigestSink
	config   BatcherConfig
}

// BatcherConfig holds batcher configuration
type BatcherConfig struct {
	MaxBatchSize  int           // Flush when this many signals are buffered
	FlushInterval time.Duration // Flush this long after the first buffered signal
	FlushTimeout  time.Duration // Per-flush deadline, also used for the shutdown flush
}

// Validate validates the batcher configuration
func (c BatcherConfig) Validate() error {
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("max batch size must be positive, got %d", c.MaxBatchSize)
	}
	if c.FlushInterval < time.Millisecond {
		return fmt.Errorf("flush interval must be at least 1ms, got %v", c.FlushInterval)
	}
	if c.FlushTimeout < time.Millisecond {
		return fmt.Errorf("flush timeout must be at least 1ms, got %v", c.FlushTimeout)
	}
	return nil
}

// NewBatcher creates a new notification batcher
func NewBatcher(
	signals <-chan models.AvailabilitySignal,
	claims interfaces.NotifyClaimer,
	resolver interfaces.SubscriberResolver,
	sink interfaces.DigestSink,
	config BatcherConfig,
) (*Batcher, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batcher configuration: %w", err)
	}

	return &Batcher{
		signals:  signals,
		claims:   claims,
		resolver: resolver,
		sink:     sink,
		config:   config,
	}, nil
}

// Run consumes signals until ctx is cancelled. On shutdown the current batch
// and everything still buffered in the channel are flushed with a fresh
// deadline; anything that loses its claim race or fails mid-flush is covered
// by broker redelivery.
func (b *Batcher) Run(ctx context.Context) error {
	log.Info().
		Int("max_batch_size", b.config.MaxBatchSize).
		Dur("flush_interval", b.config.FlushInterval).
		Msg("Starting notification batcher")

	for {
		// Idle: wait for the first signal of the next window
		var batch []uuid.UUID
		select {
		case <-ctx.Done():
			b.shutdown(nil)
			return ctx.Err()
		case sig := <-b.signals:
			batch = append(batch, sig.BookID)
		}

		// Accumulating: the window always resolves, on size cap or timer
		timer := time.NewTimer(b.config.FlushInterval)
		accumulating := true
		for accumulating && len(batch) < b.config.MaxBatchSize {
			select {
			case <-ctx.Done():
				accumulating = false
			case <-timer.C:
				accumulating = false
			case sig := <-b.signals:
				batch = append(batch, sig.BookID)
			}
		}
		timer.Stop()

		if ctx.Err() != nil {
			b.shutdown(batch)
			return ctx.Err()
		}

		b.flush(ctx, batch)

		if ctx.Err() != nil {
			b.shutdown(nil)
			return ctx.Err()
		}
	}
}

// shutdown flushes the final batch plus everything still buffered in the
// channel. Offsets for buffered signals were already committed on enqueue,
// so abandoning them would lose the notification for good: the latch stays
// armed and no further zero-crossing re-signals while stock is positive.
func (b *Batcher) shutdown(batch []uuid.UUID) {
	for draining := true; draining; {
		select {
		case sig := <-b.signals:
			batch = append(batch, sig.BookID)
		default:
			draining = false
		}
	}

	if len(batch) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), b.config.FlushTimeout)
		defer cancel()
		b.flush(ctx, batch)
	}

	log.Info().Msg("Stopping notification batcher")
}

// flush runs one cycle: claim distinct ids, resolve subscribers in a single
// round trip, emit one digest per subscriber. Errors are logged and scoped to
// this cycle only; affected books are dropped, not retried.
func (b *Batcher) flush(ctx context.Context, batch []uuid.UUID) {
	if len(batch) == 0 {
		return
	}

	claimed := make([]uuid.UUID, 0, len(batch))
	seen := make(map[uuid.UUID]struct{}, len(batch))
	for _, bookID := range batch {
		if _, dup := seen[bookID]; dup {
			continue
		}
		seen[bookID] = struct{}{}

		won, err := b.claims.ClaimNotify(ctx, bookID)
		if err != nil {
			log.Error().Err(err).Str("book_id", bookID.String()).Msg("Claim failed, dropping book from this cycle")
			continue
		}
		if !won {
			// Already claimed elsewhere, expected under redelivery
			log.Debug().Str("book_id", bookID.String()).Msg("Notify latch already claimed")
			continue
		}
		claimed = append(claimed, bookID)
	}

	if len(claimed) == 0 {
		return
	}

	matches, err := b.resolver.ResolveSubscribers(ctx, claimed)
	if err != nil {
		log.Error().Err(err).Int("claimed_count", len(claimed)).Msg("Subscriber resolution failed, dropping cycle")
		return
	}

	digests := buildDigests(matches)
	for _, digest := range digests {
		if err := b.sink.Deliver(ctx, digest); err != nil {
			log.Error().Err(err).
				Str("user_id", digest.UserID.String()).
				Msg("Failed to deliver digest")
		}
	}

	log.Info().
		Int("batch_size", len(batch)).
		Int("claimed_count", len(claimed)).
		Int("digest_count", len(digests)).
		Msg("Flushed notification batch")
}

// buildDigests groups resolution matches into one digest per subscriber,
// preserving the resolver's row order within each digest.
func buildDigests(matches []models.SubscriberMatch) []*models.SubscriberDigest {
	byUser := make(map[uuid.UUID]*models.SubscriberDigest)
	var ordered []*models.SubscriberDigest

	for _, match := range matches {
		digest, ok := byUser[match.UserID]
		if !ok {
			digest = &models.SubscriberDigest{
				UserID: match.UserID,
				Email:  match.Email,
			}
			byUser[match.UserID] = digest
			ordered = append(ordered, digest)
		}
		digest.Titles = append(digest.Titles, match.Title)
	}

	return ordered
}
