package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/http/response"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/nexus"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/requestdata"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/services"
)

type NexusHandler struct {
	nexusService nexus.Service
	adminService services.NexusAdminService
	log          *logger.Logger
}

func NewNexusHandler(nexusService nexus.Service, adminService services.NexusAdminService, baseLog *logger.Logger) *NexusHandler {
	return &NexusHandler{
		nexusService: nexusService,
		adminService: adminService,
		log:          baseLog.With("handler", "NexusHandler"),
	}
}

// sseHeaders switches the response into event-stream mode. Past this point
// errors can only be reported in-stream.
func sseHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
}

// writeSSE marshals one payload as a data frame and flushes it out.
func writeSSE(c *gin.Context, payload any) error {
	if err := c.Request.Context().Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", raw); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// Query streams the answer to one question as SSE frames, token first,
// retrieval artifacts after, done last.
func (nh *NexusHandler) Query(c *gin.Context) {
	var req nexus.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ownerID := requestdata.UserID(c.Request.Context())

	sseHeaders(c)
	emitted := false
	emit := func(ev nexus.StreamEvent) error {
		emitted = true
		return writeSSE(c, ev)
	}

	if err := nh.nexusService.QueryStream(c.Request.Context(), ownerID, req, emit); err != nil {
		nh.log.Warn("Query stream failed", "owner_id", ownerID, "error", err)
		if !emitted {
			// Failed before the pipeline produced anything; the stream is
			// already open, so the error has to travel in-band.
			_ = writeSSE(c, nexus.StreamEvent{Type: nexus.EventError, Content: err.Error(), ErrorType: "request_failed"})
			_ = writeSSE(c, nexus.StreamEvent{Type: nexus.EventDone})
		}
	}
}

func (nh *NexusHandler) ListSuggestions(c *gin.Context) {
	suggestions, err := nh.adminService.ListSuggestions(c.Request.Context(), requestdata.UserID(c.Request.Context()))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"suggestions": suggestions})
}

func (nh *NexusHandler) AcceptSuggestion(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := nh.adminService.AcceptSuggestion(c.Request.Context(), requestdata.UserID(c.Request.Context()), id); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (nh *NexusHandler) DismissSuggestion(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := nh.adminService.DismissSuggestion(c.Request.Context(), requestdata.UserID(c.Request.Context()), id); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (nh *NexusHandler) Consolidate(c *gin.Context) {
	task, err := nh.adminService.Consolidate(c.Request.Context(), requestdata.UserID(c.Request.Context()))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	if task == nil {
		response.RespondOK(c, gin.H{"ok": true, "deduplicated": true})
		return
	}
	response.RespondOK(c, gin.H{"ok": true, "task": task})
}

func (nh *NexusHandler) Graph(c *gin.Context) {
	view, err := nh.adminService.Graph(c.Request.Context(), requestdata.UserID(c.Request.Context()))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, view)
}

func (nh *NexusHandler) PinPosition(c *gin.Context) {
	noteID, err := uuid.Parse(c.Param("noteId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := nh.adminService.PinPosition(c.Request.Context(), requestdata.UserID(c.Request.Context()), noteID, req.X, req.Y); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (nh *NexusHandler) UnpinPosition(c *gin.Context) {
	noteID, err := uuid.Parse(c.Param("noteId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := nh.adminService.UnpinPosition(c.Request.Context(), requestdata.UserID(c.Request.Context()), noteID); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
