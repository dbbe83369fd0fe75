package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pixora/pixora-api/internal/config"
	"github.com/pixora/pixora-api/internal/domain/artifact"
	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/domain/generation"
	"github.com/pixora/pixora-api/internal/domain/payment"
	"github.com/pixora/pixora-api/internal/domain/reconcile"
	"github.com/pixora/pixora-api/internal/domain/refund"
	"github.com/pixora/pixora-api/internal/domain/subscription"
	"github.com/pixora/pixora-api/internal/domain/workflow"
	"github.com/pixora/pixora-api/internal/middleware"
	"github.com/pixora/pixora-api/internal/pkg/billing"
	"github.com/pixora/pixora-api/internal/pkg/database"
	"github.com/pixora/pixora-api/internal/pkg/inference"
	"github.com/pixora/pixora-api/internal/pkg/jwt"
	"github.com/pixora/pixora-api/internal/pkg/logger"
	"github.com/pixora/pixora-api/internal/pkg/storage"
)

const reconcileLockTTL = 10 * time.Minute

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "api",
	})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting Pixora API")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.DefaultPoolOptions())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if cfg.RunMigrations {
		if err := database.Migrate(db, cfg.MigrationsPath); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	store, err := storage.New(context.Background(), storage.Config{
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

	jwtService := jwt.NewService(cfg.JWTSecret)
	provider := inference.NewClient(cfg.InferenceBaseURL, cfg.InferenceAPIKey, cfg.InferenceTimeout)
	billingClient := billing.NewClient(cfg.BillingBaseURL, cfg.BillingAPIKey)

	// ---------- Repositories ----------
	creditRepo := credit.NewRepository(db)
	refundRepo := refund.NewRepository(db)
	jobRepo := generation.NewRepository(db, refundRepo)
	artifactRepo := artifact.NewRepository(db)
	paymentRepo := payment.NewRepository(db)
	subscriptionRepo := subscription.NewRepository(db)
	reconcileRepo := reconcile.NewRepository(db)

	// ---------- Services ----------
	ledger := credit.NewService(creditRepo)
	compensator := refund.NewCompensator(ledger, refundRepo, cfg.RefundRetryBase)
	gateway := generation.NewGateway(provider, cfg.InferenceModel, cfg.MaxReferenceAssets)
	poller := generation.NewPoller(provider, generation.PollerConfig{
		RateLimitAttempts: cfg.RateLimitAttempts,
		RateLimitBackoff:  cfg.RateLimitBackoff,
		Interval:          cfg.PollInterval,
		MaxAttempts:       cfg.MaxPollAttempts,
	})
	materializer := artifact.NewMaterializer(artifactRepo, store, provider, cfg.MinPayloadBytes, cfg.MaxPayloadBytes)
	generationService := generation.NewService(ledger, gateway, poller, jobRepo, materializer, compensator,
		cfg.InferenceModel, cfg.UnitCost)

	bus := workflow.NewBus(redis)
	workflowRepo := workflow.NewRepository(db, ledger, refundRepo, cfg.WorkflowLease)
	workflowService := workflow.NewService(workflowRepo, bus, cfg.UnitCost)

	reconcileService := reconcile.NewService(
		ledger,
		reconcileRepo,
		subscriptionRepo,
		billingClient,
		paymentRepo,
		reconcile.NewRedisLock(redis, reconcileLockTTL),
		reconcile.Config{
			WelcomeCredits:     cfg.WelcomeBonusCredits,
			WelcomeDescription: cfg.WelcomeDescription,
			GrantPeriod:        cfg.GrantPeriod,
			PaymentWindow:      cfg.PaymentWindow,
			BillingProvider:    cfg.BillingProvider,
		},
	)

	// ---------- Handlers ----------
	generationHandler := generation.NewHandler(generationService, ledger)
	workflowHandler := workflow.NewHandler(workflowService, bus, cfg.AllowedOrigins)
	creditHandler := credit.NewHandler(ledger)
	artifactHandler := artifact.NewHandler(artifactRepo)
	paymentHandler := payment.NewHandler(paymentRepo)
	reconcileHandler := reconcile.NewHandler(reconcileService)

	r := newRouter(routes{
		Health: healthHandler(map[string]pingFunc{
			"postgres": db.PingContext,
			"redis": func(ctx context.Context) error {
				return database.PingRedis(ctx, redis)
			},
		}, map[string]countFunc{
			"pending_refunds": refundRepo.CountPending,
		}),
		Generate:       generationHandler.Generate,
		GenerationGet:  generationHandler.Status,
		GenerationStop: generationHandler.Cancel,
		WorkflowCreate: workflowHandler.Create,
		WorkflowGet:    workflowHandler.Get,
		WorkflowStream: workflowHandler.Stream,
		Balance:        creditHandler.Balance,
		Transactions:   creditHandler.Transactions,
		Artifacts:      artifactHandler.List,
		Payments:       paymentHandler.List,
		Reconcile:      reconcileHandler.Run,
	}, guards{
		Auth:  middleware.Auth(jwtService),
		Admin: middleware.RequireAdmin(),
		Cron:  middleware.CronSecret(cfg.CronSecret),
	}, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
