package app

import (
	"github.com/gin-gonic/gin"

	"github.com/glycopilot/glycopilot-backend/internal/server"
)

func wireRouter(cfg Config, handlerset Handlers) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		AllowedOrigins:  cfg.AllowedOrigins,
		CgmHandler:      handlerset.Cgm,
		ForecastHandler: handlerset.Forecast,
		FinetuneHandler: handlerset.Finetune,
		AdvisorHandler:  handlerset.Advisor,
		InsightsHandler: handlerset.Insights,
		RealtimeHandler: handlerset.Realtime,
	})
}
