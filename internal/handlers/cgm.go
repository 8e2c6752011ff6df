package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/glycopilot/glycopilot-backend/internal/services"
)

type CgmHandler struct {
	cgmService services.CgmService
}

func NewCgmHandler(cgmService services.CgmService) *CgmHandler {
	return &CgmHandler{cgmService: cgmService}
}

// POST /cgms-data
func (ch *CgmHandler) ReceiveCgmData(c *gin.Context) {
	var req struct {
		UserID    string    `json:"user_id" binding:"required"`
		Timestamp time.Time `json:"timestamp" binding:"required"`
		BgValue   float64   `json:"bg_value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	patientID, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}

	if _, err := ch.cgmService.AppendReading(c.Request.Context(), patientID, req.Timestamp, req.BgValue); err != nil {
		RespondError(c, http.StatusBadRequest, "cgm_store_failed", err)
		return
	}
	RespondOK(c, gin.H{"status": "success"})
}

// POST /api/meals
func (ch *CgmHandler) LogMeal(c *gin.Context) {
	var req struct {
		UserID    string     `json:"user_id" binding:"required"`
		Timestamp *time.Time `json:"timestamp"`
		Carbs     float64    `json:"carbs"`
		Insulin   float64    `json:"insulin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	patientID, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	ts := time.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	event, err := ch.cgmService.LogMeal(c.Request.Context(), patientID, ts, req.Carbs, req.Insulin)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "meal_store_failed", err)
		return
	}
	RespondOK(c, gin.H{"status": "success", "meal_id": event.ID})
}

var errMissingUserID = errors.New("user_id query parameter is required")

// patientIDFromQuery resolves the user_id query parameter on GET endpoints.
func patientIDFromQuery(c *gin.Context) (uuid.UUID, error) {
	raw := c.Query("user_id")
	if raw == "" {
		return uuid.Nil, errMissingUserID
	}
	return uuid.Parse(raw)
}
