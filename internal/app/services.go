package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/glycopilot/glycopilot-backend/internal/explain"
	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/model"
	"github.com/glycopilot/glycopilot-backend/internal/services"
	"github.com/glycopilot/glycopilot-backend/internal/sse"
)

type Services struct {
	Cgm      services.CgmService
	Forecast services.ForecastService
	Finetune services.FinetuneService
	Advisor  services.AdvisorService
	Insights services.InsightsService
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, sseHub *sse.SSEHub) (Services, error) {
	log.Info("Wiring services...")

	store := model.NewStore(cfg.ModelDir, log)
	explainer := explain.NewExplainer(log)

	forecastService, err := services.NewForecastService(log, reposet.CgmReading, reposet.MealEvent, store, explainer)
	if err != nil {
		return Services{}, fmt.Errorf("init forecast service: %w", err)
	}
	cgmService := services.NewCgmService(log, sseHub, reposet.CgmReading, reposet.MealEvent)
	finetuneService := services.NewFinetuneService(db, log, sseHub, reposet.CgmReading, reposet.MealEvent, reposet.FinetuneRun, store, forecastService)
	advisorService := services.NewAdvisorService(log, reposet.CgmReading, reposet.MealEvent)
	insightsService := services.NewInsightsService(log, reposet.CgmReading, forecastService)

	return Services{
		Cgm:      cgmService,
		Forecast: forecastService,
		Finetune: finetuneService,
		Advisor:  advisorService,
		Insights: insightsService,
	}, nil
}
