package interfaces

import (
	"context"

	"github.com/google/uuid"

	"book-exchange-service/internal/models"
)

// StockAdjuster defines the contract for stock adjustment operations.
// The request layer invoking it has already validated delta != 0.
type StockAdjuster interface {
	AdjustSingle(ctx context.Context, req models.AdjustmentRequest) error
	AdjustBatch(ctx context.Context, reqs []models.AdjustmentRequest) error

	// Query operations
	GetAvailability(ctx context.Context, bookID uuid.UUID) (*models.AvailabilityResponse, error)
}

// DigestSink accepts subscriber digests produced by a flush cycle. The
// delivery transport behind it (log, email, push) is interchangeable.
type DigestSink interface {
	Deliver(ctx context.Context, digest *models.SubscriberDigest) error
}
