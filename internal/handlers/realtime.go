package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/sse"
)

type RealtimeHandler struct {
	log *logger.Logger
	hub *sse.SSEHub
}

func NewRealtimeHandler(log *logger.Logger, hub *sse.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{log: log, hub: hub}
}

// GET /sse/stream?user_id=
//
// Opens a server-sent-events stream subscribed to the patient's channel,
// which carries live CGM readings and fine-tune lifecycle events.
func (rh *RealtimeHandler) SSEStream(c *gin.Context) {
	patientID, err := patientIDFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid user_id"})
		return
	}
	rh.log.Info("SSE stream open", "patient_id", patientID.String())

	client := rh.hub.NewSSEClient(patientID)
	rh.hub.AddChannel(client, patientID.String())

	rh.hub.ServeHTTP(c.Writer, c.Request, client)

	rh.hub.CloseClient(client)
	rh.log.Info("SSE stream closed", "patient_id", patientID.String())
}
