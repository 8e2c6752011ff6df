package app

import (
	"github.com/glycopilot/glycopilot-backend/internal/handlers"
	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/sse"
)

type Handlers struct {
	Cgm      *handlers.CgmHandler
	Forecast *handlers.ForecastHandler
	Finetune *handlers.FinetuneHandler
	Advisor  *handlers.AdvisorHandler
	Insights *handlers.InsightsHandler
	Realtime *handlers.RealtimeHandler
}

func wireHandlers(log *logger.Logger, serviceset Services, sseHub *sse.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Cgm:      handlers.NewCgmHandler(serviceset.Cgm),
		Forecast: handlers.NewForecastHandler(serviceset.Forecast),
		Finetune: handlers.NewFinetuneHandler(serviceset.Finetune),
		Advisor:  handlers.NewAdvisorHandler(serviceset.Advisor),
		Insights: handlers.NewInsightsHandler(serviceset.Insights),
		Realtime: handlers.NewRealtimeHandler(log, sseHub),
	}
}
