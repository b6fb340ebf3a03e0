package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"book-exchange-service/internal/models"
)

// CacheClient wraps Redis for read-side book caching with cluster support
type CacheClient struct {
	client    redis.UniversalClient // Universal client supports both single and cluster
	ttl       time.Duration
	keyPrefix string
}

// NewCacheClient creates a new Redis cache client with cluster support
func NewCacheClient(addrs []string, password string, clusterMode bool, ttl time.Duration, keyPrefix string) *CacheClient {
	var client redis.UniversalClient

	if clusterMode {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:          addrs,
			Password:       password,
			MaxRetries:     3,
			PoolSize:       50,
			MinIdleConns:   5,
			PoolTimeout:    30 * time.Second,
			MaxRedirects:   8,
			RouteByLatency: true,
		})
	} else {
		addr := "localhost:6379"
		if len(addrs) > 0 {
			addr = addrs[0]
		}
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0,
			PoolSize: 10,
		})
	}

	return &CacheClient{
		client:    client,
		ttl:       ttl,
		keyPrefix: keyPrefix,
	}
}

// GetBook retrieves a book from cache; (nil, nil) on cache miss
func (c *CacheClient) GetBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error) {
	key := c.bookKey(bookID)

	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		log.Error().Err(err).Str("book_id", bookID.String()).Msg("Failed to get book from cache")
		return nil, fmt.Errorf("failed to get book from cache: %w", err)
	}

	var book models.Book
	if err := json.Unmarshal([]byte(val), &book); err != nil {
		log.Error().Err(err).Str("book_id", bookID.String()).Msg("Failed to unmarshal cached book")
		return nil, fmt.Errorf("failed to unmarshal cached book: %w", err)
	}

	log.Debug().Str("book_id", bookID.String()).Msg("Cache hit for book")
	return &book, nil
}

// SetBook stores a book in cache
func (c *CacheClient) SetBook(ctx context.Context, book *models.Book) error {
	key := c.bookKey(book.ID)

	data, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("failed to marshal book: %w", err)
	}

	err = c.client.Set(ctx, key, data, c.ttl).Err()
	if err != nil {
		log.Error().Err(err).Str("book_id", book.ID.String()).Msg("Failed to set book in cache")
		return fmt.Errorf("failed to set book in cache: %w", err)
	}

	log.Debug().Str("book_id", book.ID.String()).Msg("Cached book")
	return nil
}

// DeleteBook removes a book from cache
func (c *CacheClient) DeleteBook(ctx context.Context, bookID uuid.UUID) error {
	key := c.bookKey(bookID)

	err := c.client.Del(ctx, key).Err()
	if err != nil {
		log.Error().Err(err).Str("book_id", bookID.String()).Msg("Failed to delete book from cache")
		return fmt.Errorf("failed to delete book from cache: %w", err)
	}

	log.Debug().Str("book_id", bookID.String()).Msg("Deleted book from cache")
	return nil
}

// Ping checks if Redis is available
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.client.Close()
}

// bookKey generates the cache key for a book with prefix
func (c *CacheClient) bookKey(bookID uuid.UUID) string {
	return fmt.Sprintf("%sbook:%s", c.keyPrefix, bookID)
}
