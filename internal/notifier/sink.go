package notifier

import (
	"context"

	"github.com/rs/zerolog/log"

	"book-exchange-service/internal/models"
)

// LogSink writes digests to the structured log. Stands in for a real
// delivery transport (email, push), which lives outside this service.
type LogSink struct{}

// NewLogSink creates a new log-backed digest sink
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Deliver logs one subscriber digest
func (s *LogSink) Deliver(_ context.Context, digest *models.SubscriberDigest) error {
	log.Info().
		Str("user_id", digest.UserID.String()).
		Str("email", digest.Email).
		Strs("titles", digest.Titles).
		Msg("Books from your wishlist are available again")
	return nil
}
