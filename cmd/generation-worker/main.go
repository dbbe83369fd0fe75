package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/pixora/pixora-api/internal/config"
	"github.com/pixora/pixora-api/internal/domain/artifact"
	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/domain/generation"
	"github.com/pixora/pixora-api/internal/domain/refund"
	"github.com/pixora/pixora-api/internal/domain/workflow"
	"github.com/pixora/pixora-api/internal/pkg/database"
	"github.com/pixora/pixora-api/internal/pkg/inference"
	"github.com/pixora/pixora-api/internal/pkg/logger"
	"github.com/pixora/pixora-api/internal/pkg/storage"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "generation-worker",
	})

	log.Info().Msg("Starting generation-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.WorkerPoolOptions())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(ctx, storage.Config{
		Driver:      cfg.StorageDriver,
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
		S3Bucket:    cfg.S3Bucket,
		PublicURL:   cfg.StoragePublicURL,
		LocalPath:   cfg.LocalStoragePath,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage")
	}

	provider := inference.NewClient(cfg.InferenceBaseURL, cfg.InferenceAPIKey, cfg.InferenceTimeout)

	refundRepo := refund.NewRepository(db)
	ledger := credit.NewService(credit.NewRepository(db))
	compensator := refund.NewCompensator(ledger, refundRepo, cfg.RefundRetryBase)

	bus := workflow.NewBus(rdb)
	workflowRepo := workflow.NewRepository(db, ledger, refundRepo, cfg.WorkflowLease)
	orchestrator := workflow.NewOrchestrator(
		workflowRepo,
		ledger,
		generation.NewGateway(provider, cfg.InferenceModel, cfg.MaxReferenceAssets),
		generation.NewPoller(provider, generation.PollerConfig{
			RateLimitAttempts: cfg.RateLimitAttempts,
			RateLimitBackoff:  cfg.RateLimitBackoff,
			Interval:          cfg.PollInterval,
			MaxAttempts:       cfg.MaxPollAttempts,
		}),
		generation.NewRepository(db, refundRepo),
		artifact.NewMaterializer(artifact.NewRepository(db), store, provider, cfg.MinPayloadBytes, cfg.MaxPayloadBytes),
		compensator,
		bus,
		workflow.OrchestratorConfig{
			Model:            cfg.InferenceModel,
			DiscardOnFailure: cfg.DiscardArtifactsOnFailure,
		},
	)

	worker := workflow.NewWorker(workflowRepo, orchestrator, bus.Wakeups(ctx), cfg.WorkerPollInterval)
	drainer := refund.NewDrainer(refundRepo, compensator, cfg.RefundRetryBase, cfg.RefundBatchSize)

	worker.Start()
	drainer.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	log.Info().Msg("Shutdown signal received")

	cancel()
	worker.Stop()
	drainer.Stop()

	log.Info().Msg("generation-worker stopped")
}
