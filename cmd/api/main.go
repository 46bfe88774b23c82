package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/reminder-engine/internal/audio"
	"github.com/kursadbilgin/reminder-engine/internal/config"
	"github.com/kursadbilgin/reminder-engine/internal/handler"
	"github.com/kursadbilgin/reminder-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/reminder-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/reminder-engine/internal/infra/redis"
	"github.com/kursadbilgin/reminder-engine/internal/observability"
	"github.com/kursadbilgin/reminder-engine/internal/provider"
	"github.com/kursadbilgin/reminder-engine/internal/queue"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"github.com/kursadbilgin/reminder-engine/internal/service"
	"github.com/kursadbilgin/reminder-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolOptions{})
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	twilio, err := provider.NewTwilioClient(provider.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioPhoneNumber,
		BaseURL:    cfg.TwilioAPIURL,
		Timeout:    cfg.ProviderTimeout,
	})
	if err != nil {
		logger.Fatal("twilio client initialization failed", zap.Error(err))
	}

	deepgram, err := provider.NewDeepgramClient(provider.DeepgramConfig{
		APIKey:   cfg.DeepgramAPIKey,
		BaseURL:  cfg.DeepgramAPIURL,
		TTSModel: cfg.TTSModel,
		STTModel: cfg.STTModel,
		Language: cfg.STTLanguage,
		Timeout:  cfg.ProviderTimeout,
	})
	if err != nil {
		logger.Fatal("deepgram client initialization failed", zap.Error(err))
	}

	audioStore, err := audio.NewFileStore(cfg.AudioDir)
	if err != nil {
		logger.Fatal("audio store initialization failed", zap.Error(err))
	}
	checkPresets(cfg.PromptDir, logger)

	generator, err := audio.NewGenerator(deepgram, audioStore, audio.GeneratorConfig{
		PublicBaseURL: cfg.PublicURL,
		TTL:           cfg.AudioTTL,
		Inflight:      metrics.AudioInflight(),
	}, logger)
	if err != nil {
		logger.Fatal("audio generator initialization failed", zap.Error(err))
	}
	defer generator.Close()

	sweeper, err := audio.NewSweeper(audioStore, cfg.AudioTTL, cfg.AudioSweepInterval, logger)
	if err != nil {
		logger.Fatal("audio sweeper initialization failed", zap.Error(err))
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		logger.Fatal("event publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close() //nolint:errcheck

	attempts := repository.NewGormAttemptRepo(db)
	patients := repository.NewGormPatientRepo(db)

	transcriptions, err := service.NewTranscriptionRequester(deepgram, attempts, logger)
	if err != nil {
		logger.Fatal("transcription requester initialization failed", zap.Error(err))
	}
	transcriptions.SetMetrics(metrics)

	orchestrator, err := service.NewOrchestrator(
		attempts,
		patients,
		twilio,
		generator,
		transcriptions,
		publisher,
		rateLimiter,
		service.OrchestratorConfig{PublicBaseURL: cfg.PublicURL},
		logger,
	)
	if err != nil {
		logger.Fatal("orchestrator initialization failed", zap.Error(err))
	}
	orchestrator.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "reminder-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	app.Static(audio.GeneratedPathPrefix, audioStore.Dir())
	app.Static(audio.PresetPathPrefix, cfg.PromptDir)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, audioStore.Dir())

	if err := handler.RegisterReminderRoutes(app, orchestrator); err != nil {
		logger.Fatal("reminder routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterWebhookRoutes(app, orchestrator, handler.WebhookOptions{
		AuthToken:         cfg.TwilioAuthToken,
		PublicBaseURL:     cfg.PublicURL,
		ValidateSignature: cfg.TwilioValidateSignature,
	}, logger); err != nil {
		logger.Fatal("webhook routes registration failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sweeper.Start(gctx)
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("reminder-engine api started",
			zap.Int("port", cfg.APIPort),
			zap.String("publicUrl", cfg.PublicURL),
			zap.String("eventBroker", cfg.EventBroker),
		)
		return app.Listen(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("http server shutdown failed", zap.Error(err))
		}
		if err := orchestrator.Shutdown(shutdownCtx); err != nil {
			logger.Warn("background work did not drain before shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("reminder-engine api stopped with error", zap.Error(err))
	}
}

func newPublisher(cfg *config.Config) (queue.Publisher, error) {
	switch cfg.EventBroker {
	case config.BrokerRabbitMQ:
		client, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return nil, err
		}
		return queue.NewRabbitMQPublisher(client), nil
	case config.BrokerKafka:
		return queue.NewKafkaPublisher(cfg.KafkaBrokerList(), cfg.KafkaTopic)
	default:
		return queue.NopPublisher{}, nil
	}
}

// checkPresets warns about prompt files the call scripts reference but the
// server cannot serve.
func checkPresets(dir string, logger *zap.Logger) {
	for _, name := range audio.Presets() {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			logger.Warn("preset prompt is missing", zap.String("dir", dir), zap.String("preset", name))
		}
	}
}
