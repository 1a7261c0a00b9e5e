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

	"github.com/peerprep/oa-api/internal/config"
	"github.com/peerprep/oa-api/internal/database"
	"github.com/peerprep/oa-api/internal/handler"
	"github.com/peerprep/oa-api/internal/middleware"
	"github.com/peerprep/oa-api/internal/models"
	"github.com/peerprep/oa-api/internal/repository"
	"github.com/peerprep/oa-api/internal/router"
	"github.com/peerprep/oa-api/internal/service"
	"github.com/peerprep/oa-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Group{},
		&models.GroupMember{},
		&models.Assessment{},
		&models.Section{},
		&models.Question{},
		&models.Participant{},
		&models.SectionSubmission{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// Redis and NATS are optional: without them results are uncached and
	// live events stay node-local.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	var generator ai.SectionGenerator
	if cfg.AIProvider == "openai" && cfg.OpenAIAPIKey != "" {
		generator, err = ai.NewOpenAIGenerator(ai.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		})
		if err != nil {
			log.Fatalf("failed to create question generator: %v", err)
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	groupRepo := repository.NewGroupRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)
	participantRepo := repository.NewParticipantRepository(db)

	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()

	eventBus := service.NewEventBus(redisClient, cfg.RealtimeChannel, natsConn, logger)
	eventBus.Start(busCtx)

	assessmentService := service.NewAssessmentService(assessmentRepo, participantRepo, groupRepo, generator, redisClient, cfg.ResultsCacheTTL, validate, logger)
	participantService := service.NewParticipantService(participantRepo, assessmentRepo, groupRepo, eventBus, validate, logger)
	liveService := service.NewLiveService(eventBus, logger)

	assessmentHandler := handler.NewAssessmentHandler(assessmentService, validate, logger)
	attemptHandler := handler.NewAttemptHandler(participantService, logger)
	liveHandler := handler.NewLiveHandler(liveService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AssessmentHandler: assessmentHandler,
		AttemptHandler:    attemptHandler,
		LiveHandler:       liveHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
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
