package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/requestdata"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/sse"
)

// RealtimeHandler serves the long-lived event stream carrying task lifecycle
// updates. Each connection gets its own hub client subscribed to the user's
// channel; multiple tabs multiplex fine because broadcast fans out.
type RealtimeHandler struct {
	log *logger.Logger
	hub *sse.SSEHub
}

func NewRealtimeHandler(log *logger.Logger, hub *sse.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{
		log: log.With("handler", "RealtimeHandler"),
		hub: hub,
	}
}

func (rh *RealtimeHandler) Stream(c *gin.Context) {
	userID := requestdata.UserID(c.Request.Context())
	if userID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	client := rh.hub.NewSSEClient(userID)
	rh.hub.AddChannel(client, userID.String())
	rh.log.Debug("Event stream open", "user_id", userID)

	rh.hub.ServeHTTP(c.Writer, c.Request, client)

	rh.hub.CloseClient(client)
	rh.log.Debug("Event stream closed", "user_id", userID)
}
