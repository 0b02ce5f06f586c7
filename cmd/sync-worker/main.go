package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/inboxpilot/sync-worker/internal/blob"
	"github.com/inboxpilot/sync-worker/internal/config"
	"github.com/inboxpilot/sync-worker/internal/database"
	"github.com/inboxpilot/sync-worker/internal/mailbox"
	"github.com/inboxpilot/sync-worker/internal/repository"
	"github.com/inboxpilot/sync-worker/internal/sync"
	"github.com/inboxpilot/sync-worker/internal/watcher"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Logger()

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

func run(log zerolog.Logger) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Connect to the record store
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	log.Info().Msg("record store connected")

	// Run migrations
	log.Info().Msg("running database migrations")
	if err := database.RunMigrations(db); err != nil {
		return err
	}

	// Connect to the blob store
	mongoCtx, mongoCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer mongoCancel()

	mongoClient, err := mongo.Connect(mongoCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return err
	}
	defer func() {
		_ = mongoClient.Disconnect(context.Background())
	}()

	blobStore := blob.NewMongoStore(mongoClient.Database(cfg.MongoDatabase))
	if err := blobStore.EnsureIndexes(mongoCtx); err != nil {
		return err
	}
	log.Info().Msg("blob store connected")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	jobRepo := repository.NewSyncJobRepository(db)
	labelRepo := repository.NewLabelRepository(db)
	batchWriter := repository.NewBatchWriter(db)

	// Initialize the sync engine
	mailboxClient := mailbox.NewClient(cfg.GoogleClientID, cfg.GoogleClientSecret, log)
	jobManager := sync.NewJobManager(jobRepo, userRepo, log)
	orchestrator := sync.NewOrchestrator(
		userRepo,
		jobManager,
		labelRepo,
		batchWriter,
		mailboxClient,
		blobStore,
		sync.Options{
			PageSize:           cfg.PageSize,
			HydrateConcurrency: cfg.HydrateConcurrency,
			UploadConcurrency:  cfg.UploadConcurrency,
			Deadline:           cfg.SyncDeadline,
			MaxRetries:         cfg.MaxRetries,
			RetryBackoff:       cfg.RetryBackoff,
		},
		log,
	)

	// Initialize watcher
	w := watcher.New(cfg, jobRepo, orchestrator, log)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		select {
		case <-shutdownCtx.Done():
			log.Warn().Msg("shutdown timeout exceeded")
		case err := <-errChan:
			if err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("watcher error")
			}
		}

		log.Info().Msg("application stopped")
		return nil

	case err := <-errChan:
		return err
	}
}
