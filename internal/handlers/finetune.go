package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/glycopilot/glycopilot-backend/internal/services"
)

type FinetuneHandler struct {
	finetuneService services.FinetuneService
}

func NewFinetuneHandler(finetuneService services.FinetuneService) *FinetuneHandler {
	return &FinetuneHandler{finetuneService: finetuneService}
}

// POST /api/finetune-model
//
// Queues a fine-tune run for the background worker; progress and the final
// result arrive over the patient's SSE channel.
func (fh *FinetuneHandler) TriggerFinetune(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
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

	run, err := fh.finetuneService.Enqueue(c.Request.Context(), patientID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "finetune_enqueue_failed", err)
		return
	}
	RespondOK(c, gin.H{"run_id": run.ID, "status": run.Status})
}

// GET /api/finetune-status?user_id=
func (fh *FinetuneHandler) FinetuneStatus(c *gin.Context) {
	patientID, err := patientIDFromQuery(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}

	run, err := fh.finetuneService.Status(c.Request.Context(), patientID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "finetune_status_failed", err)
		return
	}
	if run == nil {
		RespondOK(c, gin.H{"status": "none"})
		return
	}
	RespondOK(c, gin.H{
		"run_id":  run.ID,
		"status":  run.Status,
		"message": run.Message,
		"metrics": run.Metrics,
	})
}
