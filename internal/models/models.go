package models

import (
	"time"

	"github.com/google/uuid"
)

// Book represents the books table structure. Stock never goes below zero;
// the repository enforces that at the statement level. NotifyArmed is the
// availability latch: set on a zero-to-positive stock transition, cleared by
// the first successful claim.
type Book struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Stock       int       `db:"stock" json:"stock"`
	NotifyArmed bool      `db:"notify_armed" json:"notify_armed"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// AdjustmentRequest represents one intended stock change.
// Negative delta = consumption, positive delta = replenishment.
type AdjustmentRequest struct {
	BookID uuid.UUID `json:"book_id"`
	Delta  int       `json:"delta"`
}

// AvailabilitySignal is published to Kafka when a book transitions from
// zero to positive stock. Delivery is at-least-once; duplicates are absorbed
// downstream by the claim latch, so SignalID exists for logging only.
type AvailabilitySignal struct {
	SignalID  string    `json:"signal_id"`
	BookID    uuid.UUID `json:"book_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAvailabilitySignal creates a signal for a book that just became available.
func NewAvailabilitySignal(bookID uuid.UUID) AvailabilitySignal {
	return AvailabilitySignal{
		SignalID:  uuid.New().String(),
		BookID:    bookID,
		Timestamp: time.Now(),
	}
}

// SubscriberMatch is one row of the subscriber resolution join: a subscriber
// whose wishlist intersects the claimed book set, paired with one matching book.
type SubscriberMatch struct {
	UserID uuid.UUID `db:"user_id" json:"user_id"`
	Email  string    `db:"email" json:"email"`
	BookID uuid.UUID `db:"book_id" json:"book_id"`
	Title  string    `db:"title" json:"title"`
}

// SubscriberDigest aggregates all newly available titles relevant to one
// subscriber in a single flush cycle. Built fresh per cycle, never persisted.
type SubscriberDigest struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Titles []string  `json:"titles"`
}

// AvailabilityResponse represents the read-side stock view for one book.
type AvailabilityResponse struct {
	BookID      uuid.UUID `json:"book_id"`
	Title       string    `json:"title"`
	Stock       int       `json:"stock"`
	CacheHit    bool      `json:"cache_hit"`
	LastUpdated time.Time `json:"last_updated"`
}
