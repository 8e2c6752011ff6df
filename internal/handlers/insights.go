package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glycopilot/glycopilot-backend/internal/services"
)

type InsightsHandler struct {
	insightsService services.InsightsService
}

func NewInsightsHandler(insightsService services.InsightsService) *InsightsHandler {
	return &InsightsHandler{insightsService: insightsService}
}

// GET /api/glucose-stats?user_id=
func (ih *InsightsHandler) GlucoseStats(c *gin.Context) {
	patientID, err := patientIDFromQuery(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}

	stats, err := ih.insightsService.GlucoseStats(c.Request.Context(), patientID)
	if err != nil {
		if errors.Is(err, services.ErrNoGlucoseData) {
			RespondError(c, http.StatusNotFound, "no_glucose_data", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "glucose_stats_failed", err)
		return
	}
	RespondOK(c, stats)
}
