package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/glycopilot/glycopilot-backend/internal/handlers"
)

type RouterConfig struct {
	AllowedOrigins  []string
	CgmHandler      *handlers.CgmHandler
	ForecastHandler *handlers.ForecastHandler
	FinetuneHandler *handlers.FinetuneHandler
	AdvisorHandler  *handlers.AdvisorHandler
	InsightsHandler *handlers.InsightsHandler
	RealtimeHandler *handlers.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	// Sensor ingestion keeps its legacy top-level paths.
	router.POST("/cgms-data", cfg.CgmHandler.ReceiveCgmData)
	router.POST("/forecast-bg", cfg.ForecastHandler.ForecastBG)

	// SSE
	router.GET("/sse/stream", cfg.RealtimeHandler.SSEStream)

	api := router.Group("/api")
	{
		api.POST("/meals", cfg.CgmHandler.LogMeal)
		api.GET("/glucose-stats", cfg.InsightsHandler.GlucoseStats)
		api.POST("/finetune-model", cfg.FinetuneHandler.TriggerFinetune)
		api.GET("/finetune-status", cfg.FinetuneHandler.FinetuneStatus)
		api.GET("/auto-isf-icr", cfg.AdvisorHandler.AutoISFICR)
		api.POST("/insulin-advice", cfg.AdvisorHandler.InsulinAdvice)
	}

	return router
}
