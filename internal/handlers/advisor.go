package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/glycopilot/glycopilot-backend/internal/services"
)

type AdvisorHandler struct {
	advisorService services.AdvisorService
}

func NewAdvisorHandler(advisorService services.AdvisorService) *AdvisorHandler {
	return &AdvisorHandler{advisorService: advisorService}
}

// GET /api/auto-isf-icr?user_id=
func (ah *AdvisorHandler) AutoISFICR(c *gin.Context) {
	patientID, err := patientIDFromQuery(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}

	profile, err := ah.advisorService.AutoISFICR(c.Request.Context(), patientID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "isf_icr_failed", err)
		return
	}
	RespondOK(c, profile)
}

// POST /api/insulin-advice
func (ah *AdvisorHandler) InsulinAdvice(c *gin.Context) {
	req := struct {
		UserID       string   `json:"user_id" binding:"required"`
		PlannedCarbs float64  `json:"planned_carbs"`
		ISF          *float64 `json:"isf"`
		ICR          *float64 `json:"icr"`
		TargetBG     float64  `json:"target_bg"`
	}{TargetBG: 110}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	patientID, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}

	advice, err := ah.advisorService.GetAdvice(c.Request.Context(), patientID, req.PlannedCarbs, req.TargetBG, req.ISF, req.ICR)
	if err != nil {
		if errors.Is(err, services.ErrNoGlucoseData) {
			RespondError(c, http.StatusBadRequest, "no_glucose_data", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "insulin_advice_failed", err)
		return
	}
	RespondOK(c, advice)
}
