package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/lingobridge/lingobridge-backend/internal/handlers"
	"github.com/lingobridge/lingobridge-backend/internal/platform/envutil"
)

type RouterConfig struct {
	VideoHandler    *handlers.VideoHandler
	StageHandler    *handlers.StageHandler
	ProgressHandler *handlers.ProgressHandler
	ResearchHandler *handlers.ResearchHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := strings.Split(envutil.String("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	router.GET("/sse/stream", cfg.ProgressHandler.HubStream)

	api := router.Group("/api")
	{
		// Video pipeline
		api.POST("/videos", cfg.VideoHandler.Create)
		api.GET("/videos/:id", cfg.VideoHandler.Get)
		api.POST("/videos/:id/cancel", cfg.VideoHandler.Cancel)
		api.POST("/videos/:id/audio", cfg.StageHandler.RunAudio)
		api.POST("/videos/:id/avatar", cfg.StageHandler.StartAvatar)
		api.GET("/videos/:id/avatar/poll", cfg.StageHandler.PollAvatar)
		api.POST("/videos/:id/render", cfg.StageHandler.StartRender)
		api.GET("/videos/:id/render/:externalJobId", cfg.StageHandler.PollRender)
		api.GET("/videos/:id/progress", cfg.ProgressHandler.VideoProgress)

		// Research ingestion
		api.POST("/research", cfg.ResearchHandler.Start)
		api.GET("/research/:id", cfg.ResearchHandler.Get)
		api.POST("/research/:id/cancel", cfg.ResearchHandler.Cancel)
		api.GET("/research/:id/progress", cfg.ProgressHandler.ResearchProgress)
	}

	return router
}
