package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"book-exchange-service/internal/interfaces"
	"book-exchange-service/internal/models"
)

// AdjustmentService coordinates stock adjustments. Mutations funnel through
// the repository's conditional updates; on confirmed replenishment it emits
// availability signals onto the signal channel. Stock correctness and
// notification delivery are independent guarantees: a committed stock change
// is never rolled back because a signal could not be emitted.
type AdjustmentService struct {
	repo    interfaces.BookRepository
	signals interfaces.SignalEmitter
	cache   interfaces.CacheRepository
	config  ServiceConfig
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	CacheInvalidateTimeout time.Duration // Timeout for async cache invalidation
}

// Validate validates the service configuration
func (c ServiceConfig) Validate() error {
	if c.CacheInvalidateTimeout < time.Millisecond {
		return fmt.Errorf("cache invalidate timeout must be at least 1ms, got %v", c.CacheInvalidateTimeout)
	}
	return nil
}

// NewAdjustmentService creates a new adjustment service with dependency injection and validation
func NewAdjustmentService(
	repo interfaces.BookRepository,
	signals interfaces.SignalEmitter,
	cache interfaces.CacheRepository,
	config ServiceConfig,
) (*AdjustmentService, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}

	return &AdjustmentService{
		repo:    repo,
		signals: signals,
		cache:   cache,
		config:  config,
	}, nil
}

// AdjustSingle applies one stock delta. No matching row maps to
// ErrInsufficientStockOrNotFound; the caller decides whether to retry with
// fresh data. On a successful replenishment a signal is emitted best-effort.
func (s *AdjustmentService) AdjustSingle(ctx context.Context, req models.AdjustmentRequest) error {
	matched, err := s.repo.ApplyDelta(ctx, req.BookID, req.Delta)
	if err != nil {
		return fmt.Errorf("failed to adjust stock: %w", err)
	}

	if !matched {
		log.Warn().
			Str("book_id", req.BookID.String()).
			Int("delta", req.Delta).
			Msg("Stock adjustment matched no row")
		return models.ErrInsufficientStockOrNotFound
	}

	s.invalidateCacheByBook(req.BookID)

	if req.Delta > 0 {
		s.emitSignal(req.BookID)
	}

	return nil
}

// AdjustBatch applies all requests atomically. The aggregate abort error from
// the repository is propagated untouched; no signals are emitted for a
// rolled-back batch.
func (s *AdjustmentService) AdjustBatch(ctx context.Context, reqs []models.AdjustmentRequest) error {
	if _, err := s.repo.ApplyDeltaMany(ctx, reqs); err != nil {
		return err
	}

	for _, req := range reqs {
		s.invalidateCacheByBook(req.BookID)
		if req.Delta > 0 {
			s.emitSignal(req.BookID)
		}
	}

	return nil
}

// emitSignal pushes an availability signal onto the channel. Emission is
// best-effort: a full channel or emit failure is logged only, never surfaced,
// because the stock change is already committed.
func (s *AdjustmentService) emitSignal(bookID uuid.UUID) {
	sig := models.NewAvailabilitySignal(bookID)
	if err := s.signals.Emit(sig); err != nil {
		log.Error().Err(err).
			Str("signal_id", sig.SignalID).
			Str("book_id", bookID.String()).
			Msg("Failed to emit availability signal")
		return
	}

	log.Debug().
		Str("signal_id", sig.SignalID).
		Str("book_id", bookID.String()).
		Msg("Emitted availability signal")
}

// invalidateCacheByBook drops the cached book asynchronously after a commit
func (s *AdjustmentService) invalidateCacheByBook(bookID uuid.UUID) {
	if s.cache == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.CacheInvalidateTimeout)
		defer cancel()

		if err := s.cache.DeleteBook(ctx, bookID); err != nil {
			log.Error().Err(err).Str("book_id", bookID.String()).Msg("Failed to invalidate cache after adjustment")
		} else {
			log.Debug().Str("book_id", bookID.String()).Msg("Cache invalidated after adjustment")
		}
	}()
}

// GetAvailability returns the current stock view for a book, checking cache first
func (s *AdjustmentService) GetAvailability(ctx context.Context, bookID uuid.UUID) (*models.AvailabilityResponse, error) {
	if s.cache != nil {
		book, err := s.cache.GetBook(ctx, bookID)
		if err != nil {
			log.Error().Err(err).Str("book_id", bookID.String()).Msg("Cache error, falling back to database")
		}

		if book != nil {
			return &models.AvailabilityResponse{
				BookID:      book.ID,
				Title:       book.Title,
				Stock:       book.Stock,
				CacheHit:    true,
				LastUpdated: book.UpdatedAt,
			}, nil
		}
	}

	book, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to get book from database: %w", err)
	}

	if book == nil {
		return nil, models.ErrInsufficientStockOrNotFound
	}

	if s.cache != nil {
		// Fill the cache asynchronously
		cached := *book
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.config.CacheInvalidateTimeout)
			defer cancel()

			if err := s.cache.SetBook(ctx, &cached); err != nil {
				log.Error().Err(err).Str("book_id", cached.ID.String()).Msg("Failed to update cache")
			}
		}()
	}

	return &models.AvailabilityResponse{
		BookID:      book.ID,
		Title:       book.Title,
		Stock:       book.Stock,
		CacheHit:    false,
		LastUpdated: book.UpdatedAt,
	}, nil
}
