package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"book-exchange-service/internal/api"
	"book-exchange-service/internal/config"
	"book-exchange-service/internal/kafka"
	"book-exchange-service/internal/notifier"
	"book-exchange-service/internal/repository"
	sigchan "book-exchange-service/internal/signal"
)

// setupLogging configures structured logging
func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// initializeDatabase sets up and tests the database connection
func initializeDatabase(cfg *config.Config) *sqlx.DB {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}

	log.Info().Msg("Database connection established")
	return db
}

// startHTTPServer starts the HTTP server for monitoring
func startHTTPServer(cfg *config.Config) *http.Server {
	handler := api.NewNotifierHandler(cfg.InstanceID)
	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)

	srv := &http.Server{
		Addr:    serverAddr,
		Handler: handler.SetupNotifierRoutes(),
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Notifier HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return srv
}

// gracefulShutdown handles graceful shutdown of the service
func gracefulShutdown(cancel context.CancelFunc, srv *http.Server, done <-chan struct{}) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down notifier...")

	// Cancel context to stop consumer and batcher; the batcher flushes
	// whatever is buffered before exiting
	cancel()

	ctx, cancelSrv := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSrv()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced shutdown")
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Batcher did not stop in time")
	}

	log.Info().Msg("Notifier stopped")
}

func main() {
	setupLogging()
	log.Info().Msg("Starting availability notifier...")

	cfg := config.LoadConfig()

	db := initializeDatabase(cfg)
	defer db.Close()

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaSignalsTopic)
	defer consumer.Close()

	bookRepo := repository.NewBookRepository(db)
	subscriberRepo := repository.NewSubscriberRepository(db)
	sink := notifier.NewLogSink()

	// Consumed signals flow through a bounded channel so broker fetches see
	// backpressure while the batcher is mid-flush
	signals := sigchan.NewChannel(cfg.SignalBufferSize)

	batcher, err := notifier.NewBatcher(signals.Receive(), bookRepo, subscriberRepo, sink, notifier.BatcherConfig{
		MaxBatchSize:  cfg.NotifierMaxBatchSize,
		FlushInterval: cfg.NotifierFlushInterval,
		FlushTimeout:  cfg.NotifierFlushTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create batcher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startHTTPServer(cfg)

	go func() {
		if err := consumer.ConsumeSignals(ctx, signals); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Signal consumption stopped")
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := batcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Batcher stopped")
		}
	}()

	log.Info().Str("instance", cfg.InstanceID).Msg("Notifier started, consuming availability signals...")

	gracefulShutdown(cancel, srv, done)
}
