package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"book-exchange-service/internal/models"
)

// SubscriberRepository resolves subscribers from the wishlist index.
// The index is owned by user management and read-only here.
type SubscriberRepository struct {
	db *sqlx.DB
}

// NewSubscriberRepository creates a new subscriber repository
func NewSubscriberRepository(db *sqlx.DB) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

// ResolveSubscribers returns every subscriber whose wishlist intersects the
// given book set, paired with the matching titles. One join query for N ids;
// throughput under batch sizes >1 depends on this staying a single round trip.
func (r *SubscriberRepository) ResolveSubscribers(ctx context.Context, bookIDs []uuid.UUID) ([]models.SubscriberMatch, error) {
	if len(bookIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(bookIDs))
	for _, id := range bookIDs {
		ids = append(ids, id.String())
	}

	query := `SELECT u.id AS user_id, u.email, b.id AS book_id, b.title
			  FROM users u
			  JOIN wishlists w ON w.user_id = u.id
			  JOIN books b ON b.id = w.book_id
			  WHERE w.book_id = ANY($1)
			  ORDER BY u.id, b.title`

	var matches []models.SubscriberMatch
	err := r.db.SelectContext(ctx, &matches, query, pq.Array(ids))
	if err != nil {
		log.Error().Err(err).Int("book_count", len(bookIDs)).Msg("Failed to resolve subscribers")
		return nil, fmt.Errorf("failed to resolve subscribers: %w", err)
	}

	log.Debug().
		Int("book_count", len(bookIDs)).
		Int("match_count", len(matches)).
		Msg("Resolved subscribers for claimed books")

	return matches, nil
}
