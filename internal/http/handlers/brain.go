package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/brain"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/http/response"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/requestdata"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/services"
)

type BrainHandler struct {
	chatService  brain.ChatService
	adminService services.BrainAdminService
	log          *logger.Logger
}

func NewBrainHandler(chatService brain.ChatService, adminService services.BrainAdminService, baseLog *logger.Logger) *BrainHandler {
	return &BrainHandler{
		chatService:  chatService,
		adminService: adminService,
		log:          baseLog.With("handler", "BrainHandler"),
	}
}

func (bh *BrainHandler) Build(c *gin.Context) {
	task, err := bh.adminService.Build(c.Request.Context(), requestdata.UserID(c.Request.Context()))
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

func (bh *BrainHandler) ListFiles(c *gin.Context) {
	view, err := bh.adminService.ListFiles(c.Request.Context(), requestdata.UserID(c.Request.Context()))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, view)
}

func (bh *BrainHandler) PatchFile(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	file, err := bh.adminService.PatchFile(c.Request.Context(), requestdata.UserID(c.Request.Context()), c.Param("key"), req.Content)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, file)
}

// Chat streams a brain answer as SSE frames: context first, tokens, then
// metadata and done.
func (bh *BrainHandler) Chat(c *gin.Context) {
	var req brain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ownerID := requestdata.UserID(c.Request.Context())

	sseHeaders(c)
	emitted := false
	emit := func(ev brain.ChatEvent) error {
		emitted = true
		return writeSSE(c, ev)
	}

	if err := bh.chatService.ChatStream(c.Request.Context(), ownerID, req, emit); err != nil {
		bh.log.Warn("Chat stream failed", "owner_id", ownerID, "error", err)
		if !emitted {
			_ = writeSSE(c, brain.ChatEvent{Type: brain.ChatEventError, Content: err.Error(), ErrorType: "request_failed"})
			_ = writeSSE(c, brain.ChatEvent{Type: brain.ChatEventDone})
		}
	}
}

func (bh *BrainHandler) ListConversations(c *gin.Context) {
	convos, err := bh.adminService.ListConversations(c.Request.Context(), requestdata.UserID(c.Request.Context()))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"conversations": convos})
}

func (bh *BrainHandler) GetConversation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	view, err := bh.adminService.GetConversation(c.Request.Context(), requestdata.UserID(c.Request.Context()), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, view)
}
