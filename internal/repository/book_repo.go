package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"book-exchange-service/internal/models"
)

// applyDeltaQuery is the single atomic stock mutation. Both effects are
// computed from the pre-update row in one statement: the delta is applied
// only when it cannot take stock below zero, and the notify latch arms
// exactly when the pre-update stock was zero and the delta is positive.
const applyDeltaQuery = `
	UPDATE books
	SET stock = stock + $2,
	    notify_armed = CASE WHEN stock = 0 AND $2 > 0 THEN TRUE ELSE notify_armed END,
	    updated_at = NOW()
	WHERE id = $1 AND stock + $2 >= 0`

// BookRepository handles database operations for books and their stock
type BookRepository struct {
	db *sqlx.DB
}

// NewBookRepository creates a new book repository
func NewBookRepository(db *sqlx.DB) *BookRepository {
	return &BookRepository{db: db}
}

// GetBook retrieves a book by ID
func (r *BookRepository) GetBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error) {
	var book models.Book
	query := `SELECT id, title, stock, notify_armed, created_at, updated_at
			  FROM books WHERE id = $1`

	err := r.db.GetContext(ctx, &book, query, bookID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("book_id", bookID.String()).Msg("Failed to get book")
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	return &book, nil
}

// CreateBook creates a new book record. Stock comes from the creation
// payload and the notify latch starts disarmed.
func (r *BookRepository) CreateBook(ctx context.Context, book *models.Book) error {
	query := `INSERT INTO books (id, title, stock, notify_armed, created_at, updated_at)
			  VALUES ($1, $2, $3, FALSE, NOW(), NOW())`

	_, err := r.db.ExecContext(ctx, query, book.ID, book.Title, book.Stock)
	if err != nil {
		log.Error().Err(err).Str("book_id", book.ID.String()).Msg("Failed to create book")
		return fmt.Errorf("failed to create book: %w", err)
	}

	book.NotifyArmed = false
	now := time.Now()
	book.CreatedAt = now
	book.UpdatedAt = now

	return nil
}

// ApplyDelta applies one stock delta as a single conditional update.
// Returns whether a row matched: false means the book does not exist or a
// negative delta would have taken stock below zero. Concurrent calls on the
// same book serialize at the row level and never observe partial state.
func (r *BookRepository) ApplyDelta(ctx context.Context, bookID uuid.UUID, delta int) (bool, error) {
	result, err := r.db.ExecContext(ctx, applyDeltaQuery, bookID, delta)
	if err != nil {
		log.Error().Err(err).
			Str("book_id", bookID.String()).
			Int("delta", delta).
			Msg("Failed to apply stock delta")
		return false, fmt.Errorf("failed to apply stock delta: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rowsAffected == 1, nil
}

// ApplyDeltaMany applies all requests inside one transaction, all-or-nothing.
// Requests must target distinct books. If any request matches no row the
// whole transaction rolls back and the caller gets a BatchAbortedError
// naming the full request set; a partial result is never observable.
func (r *BookRepository) ApplyDeltaMany(ctx context.Context, requests []models.AdjustmentRequest) (int, error) {
	if len(requests) == 0 {
		return 0, nil
	}

	targets := make(map[uuid.UUID]struct{}, len(requests))
	for _, req := range requests {
		if _, dup := targets[req.BookID]; dup {
			return 0, models.ErrDuplicateAdjustmentTarget
		}
		targets[req.BookID] = struct{}{}
	}

	// Deterministic statement order so concurrent batches touching the same
	// books cannot deadlock each other.
	ordered := make([]models.AdjustmentRequest, len(requests))
	copy(ordered, requests)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].BookID.String() < ordered[j].BookID.String()
	})

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin transaction")
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	matched := 0
	for _, req := range ordered {
		result, err := tx.ExecContext(ctx, applyDeltaQuery, req.BookID, req.Delta)
		if err != nil {
			log.Error().Err(err).
				Str("book_id", req.BookID.String()).
				Int("delta", req.Delta).
				Msg("Failed to apply stock delta in batch")
			return 0, fmt.Errorf("failed to apply stock delta in batch: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get affected rows: %w", err)
		}
		matched += int(rowsAffected)
	}

	if matched < len(requests) {
		log.Warn().
			Int("matched", matched).
			Int("requested", len(requests)).
			Msg("Bulk adjustment matched fewer rows than requested, rolling back")
		return 0, &models.BatchAbortedError{Requests: requests, Matched: matched}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return matched, nil
}

// ClaimNotify disarms the notify latch if and only if it is currently armed.
// Returns true iff this call performed the flip, which makes it safe for
// multiple notifier instances to race on the same redelivered signal.
func (r *BookRepository) ClaimNotify(ctx context.Context, bookID uuid.UUID) (bool, error) {
	query := `UPDATE books SET notify_armed = FALSE, updated_at = NOW()
			  WHERE id = $1 AND notify_armed = TRUE`

	result, err := r.db.ExecContext(ctx, query, bookID)
	if err != nil {
		log.Error().Err(err).Str("book_id", bookID.String()).Msg("Failed to claim notify latch")
		return false, fmt.Errorf("failed to claim notify latch: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rowsAffected == 1, nil
}
