package interfaces

import (
	"context"

	"github.com/google/uuid"

	"book-exchange-service/internal/models"
)

// BookRepository defines the contract for atomic stock mutation. Every
// mutation is a single conditional statement (or one transaction of them);
// no caller ever does a read-then-write on stock.
type BookRepository interface {
	// Book operations
	GetBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error)
	CreateBook(ctx context.Context, book *models.Book) error

	// Stock adjustment primitives
	ApplyDelta(ctx context.Context, bookID uuid.UUID, delta int) (bool, error)
	ApplyDeltaMany(ctx context.Context, requests []models.AdjustmentRequest) (int, error)

	// Availability latch
	ClaimNotify(ctx context.Context, bookID uuid.UUID) (bool, error)
}

// NotifyClaimer is the latch-only slice of BookRepository used by the notifier.
type NotifyClaimer interface {
	ClaimNotify(ctx context.Context, bookID uuid.UUID) (bool, error)
}

// SubscriberResolver resolves, in one round trip, every subscriber whose
// wishlist intersects the given book set.
type SubscriberResolver interface {
	ResolveSubscribers(ctx context.Context, bookIDs []uuid.UUID) ([]models.SubscriberMatch, error)
}

// CacheRepository defines the contract for the read-side book cache.
type CacheRepository interface {
	GetBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error)
	SetBook(ctx context.Context, book *models.Book) error
	DeleteBook(ctx context.Context, bookID uuid.UUID) error
	Close() error
}
