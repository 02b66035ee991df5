package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/lingobridge/lingobridge-backend/internal/capabilities/avatar"
	"github.com/lingobridge/lingobridge-backend/internal/capabilities/render"
	"github.com/lingobridge/lingobridge-backend/internal/capabilities/speech"
	"github.com/lingobridge/lingobridge-backend/internal/capabilities/webresearch"
	"github.com/lingobridge/lingobridge-backend/internal/data/db"
	ingestionrepo "github.com/lingobridge/lingobridge-backend/internal/data/repos/ingestion"
	mediarepo "github.com/lingobridge/lingobridge-backend/internal/data/repos/media"
	"github.com/lingobridge/lingobridge-backend/internal/handlers"
	"github.com/lingobridge/lingobridge-backend/internal/jobs/pollworker"
	"github.com/lingobridge/lingobridge-backend/internal/pkg/spacer"
	"github.com/lingobridge/lingobridge-backend/internal/platform/bucket"
	"github.com/lingobridge/lingobridge-backend/internal/platform/envutil"
	"github.com/lingobridge/lingobridge-backend/internal/platform/logger"
	"github.com/lingobridge/lingobridge-backend/internal/realtime/bus"
	"github.com/lingobridge/lingobridge-backend/internal/server"
	"github.com/lingobridge/lingobridge-backend/internal/services"
	"github.com/lingobridge/lingobridge-backend/internal/sse"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	gdb := postgresService.DB()

	// Repos
	videoJobRepo := mediarepo.NewVideoJobRepo(gdb, log)
	ingestionJobRepo := ingestionrepo.NewJobRepo(gdb, log)

	// Storage
	mediaStore, err := bucket.NewGCSStore(log)
	if err != nil {
		log.Fatal("Could not init media store", "error", err)
	}

	// SSE hub, with the redis bus fanning events across instances when
	// configured.
	hub := sse.NewHub(log)
	var sseBus bus.Bus
	if os.Getenv("REDIS_ADDR") != "" {
		sseBus, err = bus.NewRedisBus(log)
		if err != nil {
			log.Warn("Redis bus init failed; events stay instance-local", "error", err)
			sseBus = nil
		} else {
			if err := sseBus.StartForwarder(context.Background(), hub.Broadcast); err != nil {
				log.Warn("Redis bus forwarder failed to start", "error", err)
			}
			defer sseBus.Close()
		}
	}
	notifier := services.NewJobNotifier(log, hub, sseBus)

	// Capability clients
	synth, err := speech.NewClient(log)
	if err != nil {
		log.Fatal("Could not init speech client", "error", err)
	}
	avatarClient, err := avatar.NewClient(log)
	if err != nil {
		log.Fatal("Could not init avatar client", "error", err)
	}
	renderClient := render.NewClient(log)

	researchClient, err := webresearch.NewClient(log)
	if err != nil {
		log.Warn("Research client unavailable; ingestion endpoints disabled", "error", err)
	}

	// Services
	sp := spacer.New()
	videoJobService := services.NewVideoJobService(log, videoJobRepo)
	audioStage := services.NewAudioStageService(log, videoJobRepo, mediaStore, synth, sp, notifier)
	avatarStage := services.NewAvatarStageService(log, videoJobRepo, mediaStore, avatarClient, sp, notifier)
	renderStage := services.NewRenderStageService(log, videoJobRepo, mediaStore, renderClient, sp, notifier)
	projector := services.NewProgressProjector(log)

	var ingestionService services.IngestionService
	if researchClient != nil {
		ingestionService = services.NewIngestionService(log, ingestionJobRepo, researchClient, sp, notifier)
	}

	// Optional server-side sweep of in-flight vendor jobs.
	if envutil.Bool("POLL_WORKER_ENABLED", false) {
		pollworker.New(log, videoJobRepo, avatarStage, renderStage).Start(context.Background())
	}

	// Handlers
	router := server.NewRouter(server.RouterConfig{
		VideoHandler:    handlers.NewVideoHandler(videoJobService),
		StageHandler:    handlers.NewStageHandler(audioStage, avatarStage, renderStage),
		ProgressHandler: handlers.NewProgressHandler(projector, videoJobRepo, ingestionJobRepo, hub),
		ResearchHandler: handlers.NewResearchHandler(ingestionService),
	})

	port := envutil.String("PORT", "8080")
	log.Info("Starting server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
