package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/http/response"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/llm"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/requestdata"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/services"
)

type ProviderHandler struct {
	providerService services.ProviderService
	log             *logger.Logger
}

func NewProviderHandler(providerService services.ProviderService, baseLog *logger.Logger) *ProviderHandler {
	return &ProviderHandler{
		providerService: providerService,
		log:             baseLog.With("handler", "ProviderHandler"),
	}
}

func (ph *ProviderHandler) ListModels(c *gin.Context) {
	view, err := ph.providerService.ListModels(c.Request.Context(), requestdata.UserID(c.Request.Context()))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, view)
}

// PullModel streams pull progress as SSE frames; model downloads run for
// minutes and the UI renders the layer progress live.
func (ph *ProviderHandler) PullModel(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	sseHeaders(c)
	err := ph.providerService.PullModel(c.Request.Context(), req.Name, func(p llm.PullProgress) {
		_ = writeSSE(c, p)
	})
	if err != nil {
		_ = writeSSE(c, gin.H{"status": "error", "error": err.Error()})
		return
	}
	_ = writeSSE(c, gin.H{"status": "success"})
}

func (ph *ProviderHandler) DeleteModel(c *gin.Context) {
	if err := ph.providerService.DeleteModel(c.Request.Context(), c.Param("name")); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (ph *ProviderHandler) UpsertKey(c *gin.Context) {
	var req struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
		BaseURL  string `json:"base_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ownerID := requestdata.UserID(c.Request.Context())
	if err := ph.providerService.UpsertKey(c.Request.Context(), ownerID, req.Provider, req.APIKey, req.BaseURL); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (ph *ProviderHandler) DeleteKey(c *gin.Context) {
	ownerID := requestdata.UserID(c.Request.Context())
	if err := ph.providerService.DeleteKey(c.Request.Context(), ownerID, c.Param("provider")); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (ph *ProviderHandler) Health(c *gin.Context) {
	report, err := ph.providerService.Health(c.Request.Context(), requestdata.UserID(c.Request.Context()))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"providers": report})
}

// Usage reports cloud AI spend; ?days= overrides the default window.
func (ph *ProviderHandler) Usage(c *gin.Context) {
	days, _ := strconv.Atoi(c.Query("days"))
	view, err := ph.providerService.Usage(c.Request.Context(), requestdata.UserID(c.Request.Context()), days)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, view)
}
