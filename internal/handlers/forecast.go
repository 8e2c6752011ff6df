package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/glycopilot/glycopilot-backend/internal/services"
)

type ForecastHandler struct {
	forecastService services.ForecastService
}

func NewForecastHandler(forecastService services.ForecastService) *ForecastHandler {
	return &ForecastHandler{forecastService: forecastService}
}

// POST /forecast-bg
//
// Accepts a caller-supplied feature window. user_id is optional: without it
// the shared base model is used, with it the patient's fine-tuned model.
func (fh *ForecastHandler) ForecastBG(c *gin.Context) {
	var req struct {
		UserID   string                 `json:"user_id"`
		Readings []services.ForecastRow `json:"readings" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	patientID := uuid.Nil
	if req.UserID != "" {
		parsed, err := uuid.Parse(req.UserID)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
			return
		}
		patientID = parsed
	}

	result, err := fh.forecastService.Forecast(c.Request.Context(), patientID, req.Readings, true)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInsufficientData):
			RespondError(c, http.StatusBadRequest, "insufficient_data", err)
		case errors.Is(err, services.ErrModelUnavailable):
			RespondError(c, http.StatusServiceUnavailable, "model_unavailable", err)
		default:
			RespondError(c, http.StatusInternalServerError, "forecast_failed", err)
		}
		return
	}
	RespondOK(c, result)
}
