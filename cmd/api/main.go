package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/content"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/report"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	var redisClient *redis.Client
	reports := repository.NewMemoryReportRepository(cfg.ReportTTL, cfg.ReportCapacity)
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL, 5*time.Second)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		reports = repository.NewRedisReportRepository(redisClient, "", cfg.ReportTTL)
	} else {
		logger.Warn().Msg("redis url not set, keeping reports in memory")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	var grader ai.Grader
	if cfg.GraderConfigured() {
		grader, err = ai.NewOpenAIGrader(graderConfig(cfg, logger))
		if err != nil {
			log.Fatalf("failed to create ai grader: %v", err)
		}
	} else {
		logger.Warn().Str("provider", cfg.AIProvider).Msg("ai credentials missing, reports will be produced without grades")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	events := service.NewReportEvents(redisClient, cfg.EventsTopic, natsConn, cfg.NATSSubject, logger)
	gradingService := service.NewGradingService(grader, logger)
	analysisService := service.NewAnalysisService(gradingService, reports, events, validate, logger, service.AnalysisConfig{
		WorkspaceRoot:        cfg.WorkspaceRoot,
		MaxRubricBytes:       cfg.MaxRubricBytes,
		MaxProjectBytes:      cfg.MaxProjectBytes,
		MaxRequirementsBytes: cfg.MaxRequirementsBytes,
		Limits: content.Limits{
			MaxFileBytes:    cfg.ContentMaxFileBytes,
			MaxFileChars:    cfg.ContentMaxFileChars,
			MaxTotalChars:   cfg.ContentMaxTotalChars,
			MaxImages:       cfg.ContentMaxImages,
			MaxArchiveDepth: cfg.ContentMaxArchiveDepth,
			MaxExtractBytes: cfg.ContentMaxExtractBytes,
		},
		Synthesis: report.Options{IncludeSummaryRows: cfg.ReportIncludeSummaryRows},
		ReportTTL: cfg.ReportTTL,
	})

	analysisHandler := handler.NewAnalysisHandler(analysisService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    cfg.BodyLimit(),
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AnalysisHandler: analysisHandler,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func graderConfig(cfg config.Config, logger zerolog.Logger) ai.OpenAIConfig {
	retry := ai.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.AIMaxAttempts
	retry.MinBackoff = cfg.AIBackoffMin
	retry.MaxBackoff = cfg.AIBackoffMax

	apiKey := cfg.OpenAIAPIKey
	if cfg.AIProvider == ai.ProviderAzure {
		apiKey = cfg.AzureAPIKey
	}

	return ai.OpenAIConfig{
		Provider:        cfg.AIProvider,
		APIKey:          apiKey,
		Model:           cfg.AIModel,
		BaseURL:         cfg.AIBaseURL,
		AzureEndpoint:   cfg.AzureEndpoint,
		AzureDeployment: cfg.AzureDeployment,
		AzureAPIVersion: cfg.AzureAPIVersion,
		MaxTokens:       cfg.AIMaxTokens,
		Temperature:     cfg.AITemperature,
		Retry:           retry,
		Logger:          logger,
	}
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
